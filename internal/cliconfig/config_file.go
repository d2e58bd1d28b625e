package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Channel         string   `toml:"channel"`
	IPCHome         string   `toml:"ipc_home"`
	Peers           []string `toml:"peers"`
	Workers         []string `toml:"workers"`
	MultiLocal      *bool    `toml:"multilocal"`
	MultiRun        int      `toml:"multirun"`
	Balance         *bool    `toml:"balance"`
	Locator         string   `toml:"locator"`
	Service         string   `toml:"service"`
	LocatorCacheTTL string   `toml:"locator_cache_ttl"`
	MessageTimeout  string   `toml:"message_timeout"`
	MaxPeerWrites   int      `toml:"max_peer_writes"`
	MaxQueueDepth   int      `toml:"max_queue_depth"`
	Checksum        string   `toml:"checksum"`
	Filter          string   `toml:"filter"`
	FilterLater     *bool    `toml:"filter_later"`
	InitialDelay    string   `toml:"initial_delay"`
	ReaderTimeout   string   `toml:"reader_timeout"`
	IdleWait        string   `toml:"idle_wait"`
	DrainTimeout    string   `toml:"drain_timeout"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	DefaultPort     int      `toml:"default_port"`
	Daemon          *bool    `toml:"daemon"`
	LogFile         string   `toml:"log_file"`
	LogLevel        string   `toml:"log_level"`
	PIDFile         string   `toml:"pid_file"`
	MetricsAddr     string   `toml:"metrics_addr"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.channeld/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".channeld", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("channel", fc.Channel, &cfg.Channel)
	s.setString("ipc-home", fc.IPCHome, &cfg.IPCHome)
	s.setList("peer", fc.Peers, &cfg.Peers)
	s.setList("workers", fc.Workers, &cfg.Workers)
	s.setString("locator", fc.Locator, &cfg.Locator)
	s.setString("service", fc.Service, &cfg.Service)
	s.setString("checksum", fc.Checksum, &cfg.Checksum)
	s.setString("filter", fc.Filter, &cfg.Filter)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("pid-file", fc.PIDFile, &cfg.PIDFile)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"locator-cache-ttl", fc.LocatorCacheTTL, &cfg.LocatorCacheTTL},
		{"msgtimeout", fc.MessageTimeout, &cfg.MessageTimeout},
		{"initial-delay", fc.InitialDelay, &cfg.InitialDelay},
		{"reader-timeout", fc.ReaderTimeout, &cfg.ReaderTimeout},
		{"idle-wait", fc.IdleWait, &cfg.IdleWait},
		{"drain-timeout", fc.DrainTimeout, &cfg.DrainTimeout},
		{"connect-timeout", fc.ConnectTimeout, &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("multirun", fc.MultiRun, &cfg.MultiRun)
	s.setInt("max-peer-writes", fc.MaxPeerWrites, &cfg.MaxPeerWrites)
	s.setInt("max-queue-depth", fc.MaxQueueDepth, &cfg.MaxQueueDepth)
	s.setInt("default-port", fc.DefaultPort, &cfg.DefaultPort)

	s.setBool("multilocal", fc.MultiLocal, &cfg.MultiLocal)
	s.setBool("balance", fc.Balance, &cfg.Balance)
	s.setBool("filter-later", fc.FilterLater, &cfg.FilterLater)
	s.setBool("daemon", fc.Daemon, &cfg.Daemon)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
