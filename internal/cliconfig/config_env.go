package cliconfig

import (
	"os"
	"strings"
	"time"
)

func getenv(name string) string { return os.Getenv(EnvPrefix + name) }

// ApplyEnvConfig applies configuration from environment variables (CHANNELD_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("channel", getenv("CHANNEL"), &cfg.Channel)
	s.setString("ipc-home", os.Getenv("XYMONHOME"), &cfg.IPCHome)
	s.setString("ipc-home", getenv("IPC_HOME"), &cfg.IPCHome)
	s.setList("peer", splitList(getenv("PEERS")), &cfg.Peers)
	s.setString("locator", getenv("LOCATOR"), &cfg.Locator)
	s.setString("service", getenv("SERVICE"), &cfg.Service)
	s.setString("checksum", getenv("CHECKSUM"), &cfg.Checksum)
	s.setString("filter", getenv("FILTER"), &cfg.Filter)
	s.setString("log-file", os.Getenv("XYMONLAUNCH_LOGFILENAME"), &cfg.LogFile)
	s.setString("log-file", getenv("LOG_FILE"), &cfg.LogFile)
	s.setString("log-level", getenv("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("pid-file", getenv("PID_FILE"), &cfg.PIDFile)
	s.setString("metrics-addr", getenv("METRICS_ADDR"), &cfg.MetricsAddr)

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"locator-cache-ttl", "LOCATOR_CACHE_TTL", &cfg.LocatorCacheTTL},
		{"msgtimeout", "MSG_TIMEOUT", &cfg.MessageTimeout},
		{"initial-delay", "INITIAL_DELAY", &cfg.InitialDelay},
		{"reader-timeout", "READER_TIMEOUT", &cfg.ReaderTimeout},
		{"idle-wait", "IDLE_WAIT", &cfg.IdleWait},
		{"drain-timeout", "DRAIN_TIMEOUT", &cfg.DrainTimeout},
		{"connect-timeout", "CONNECT_TIMEOUT", &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"multirun", "MULTIRUN", &cfg.MultiRun},
		{"max-peer-writes", "MAX_PEER_WRITES", &cfg.MaxPeerWrites},
		{"max-queue-depth", "MAX_QUEUE_DEPTH", &cfg.MaxQueueDepth},
		{"default-port", "DEFAULT_PORT", &cfg.DefaultPort},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("multilocal", getenv("MULTILOCAL"), &cfg.MultiLocal)
	s.setBoolFromString("balance", getenv("BALANCE"), &cfg.Balance)
	s.setBoolFromString("filter-later", getenv("FILTER_LATER"), &cfg.FilterLater)
	s.setBoolFromString("daemon", getenv("DAEMON"), &cfg.Daemon)

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
