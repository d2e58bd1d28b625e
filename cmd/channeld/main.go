package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	logAdapter "github.com/bft-labs/channeld/internal/adapters/log"
	"github.com/bft-labs/channeld/internal/cliconfig"
	"github.com/bft-labs/channeld/internal/ports"
)

const longHelp = `channeld attaches to one of the Xymon daemon's message channels and
forwards every message to the workers that process it: local worker
processes fed on stdin, or remote daemons reached over TCP.

Without --locator, all peers get every message, or with --balance (and
--multirun) the least busy one does. With --locator, each host's messages go
to the server the locator assigns to it.`

var exampleUsage = strings.TrimSpace(`
  channeld --channel=status -- xymond_history
  channeld --channel=data --multirun=4 -- xymond_rrd --rrddir=/var/lib/xymon/rrd
  channeld --channel=client --locator=10.0.0.1:1984 --service=client
  channeld --config /etc/channeld/status.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	bootLog := logAdapter.NewConsole()

	root := &cobra.Command{
		Use:     "channeld [flags] [--] [worker command [args...]]",
		Short:   "Fan out Xymon channel messages to local workers and remote peers",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Args:    cobra.ArbitraryArgs,
		// Errors are logged below; cobra's own output would duplicate them.
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := cliconfig.Changed(cmd.Flags())
			if len(args) > 0 {
				cfg.Command = args
			}
			base := cfg

			if err := cliconfig.Load(&cfg, cfgFile, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if cfg.Daemon && !isDaemonChild() {
				return daemonize(cfg, bootLog)
			}

			return run(cmd.Context(), runOptions{
				cfg:        cfg,
				base:       base,
				changed:    changed,
				configPath: cfgFile,
			})
		},
	}
	root.Flags().SetInterspersed(false)

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.channeld/config.toml)")
	f.StringVar(&cfg.Channel, "channel", cfg.Channel, "channel to attach to (status, stachg, page, data, notes, enadis, client, clichg, user)")
	f.StringVar(&cfg.IPCHome, "ipc-home", cfg.IPCHome, "path used to derive the IPC key (default $XYMONHOME)")
	f.StringArrayVar(&cfg.Peers, "peer", cfg.Peers, "remote peer host[:port], repeatable")
	f.BoolVar(&cfg.MultiLocal, "multilocal", cfg.MultiLocal, "start each positional argument as its own worker")
	f.IntVar(&cfg.MultiRun, "multirun", cfg.MultiRun, "start this many copies of the worker and balance between them")
	f.BoolVar(&cfg.Balance, "balance", cfg.Balance, "send each message to the least busy peer instead of all")
	f.StringVar(&cfg.Locator, "locator", cfg.Locator, "locator address; enables per-host routing")
	f.StringVar(&cfg.Service, "service", cfg.Service, "locator service type (rrd, client, alert, history, hostdata)")
	f.Var(cliconfig.NewDurationValue(&cfg.LocatorCacheTTL), "locator-cache-ttl", "cache locator answers this long (0 disables)")
	f.Var(cliconfig.NewDurationValue(&cfg.MessageTimeout), "msgtimeout", "discard queued messages older than this")
	f.IntVar(&cfg.MaxPeerWrites, "max-peer-writes", cfg.MaxPeerWrites, "writes per peer per message picked up")
	f.IntVar(&cfg.MaxQueueDepth, "max-queue-depth", cfg.MaxQueueDepth, "drop the oldest message beyond this many per peer (0 disables)")
	f.StringVar(&cfg.Checksum, "checksum", cfg.Checksum, "add a checksum to forwarded headers (md5, blake3)")
	f.StringVar(&cfg.Filter, "filter", cfg.Filter, "only forward messages matching this regular expression")
	f.BoolVar(&cfg.FilterLater, "filter-later", cfg.FilterLater, "filter after releasing the producer")
	f.Var(cliconfig.NewDurationValue(&cfg.InitialDelay), "initial-delay", "wait after starting workers before attaching")
	f.Var(cliconfig.NewDurationValue(&cfg.ReaderTimeout), "reader-timeout", "how long to wait for co-readers per message")
	f.Var(cliconfig.NewDurationValue(&cfg.IdleWait), "idle-wait", "channel wait when nothing is queued")
	f.Var(cliconfig.NewDurationValue(&cfg.DrainTimeout), "drain-timeout", "how long to keep delivering after shutdown starts")
	f.Var(cliconfig.NewDurationValue(&cfg.ConnectTimeout), "connect-timeout", "TCP connect timeout per address")
	f.IntVar(&cfg.DefaultPort, "default-port", cfg.DefaultPort, "port for peers given without one")
	f.BoolVar(&cfg.Daemon, "daemon", cfg.Daemon, "detach and run in the background")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log to this file instead of stderr")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.PIDFile, "pid-file", cfg.PIDFile, "write the process id here")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")

	if err := root.Execute(); err != nil {
		bootLog.Error("channeld", ports.Err(err))
		os.Exit(1)
	}
}
