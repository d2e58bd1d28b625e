package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bft-labs/channeld/internal/adapters/digest"
	"github.com/bft-labs/channeld/internal/adapters/filter"
	"github.com/bft-labs/channeld/internal/adapters/fs"
	"github.com/bft-labs/channeld/internal/adapters/locator"
	logAdapter "github.com/bft-labs/channeld/internal/adapters/log"
	"github.com/bft-labs/channeld/internal/adapters/metrics"
	"github.com/bft-labs/channeld/internal/adapters/systemd"
	"github.com/bft-labs/channeld/internal/adapters/sysv"
	"github.com/bft-labs/channeld/internal/adapters/transport"
	"github.com/bft-labs/channeld/internal/app"
	"github.com/bft-labs/channeld/internal/cliconfig"
	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// childLogEnv tells workers where the broker logs, so they can log there too.
const childLogEnv = "CHANNELD_LOGFILE"

type runOptions struct {
	cfg        cliconfig.Config
	base       cliconfig.Config
	changed    map[string]bool
	configPath string
}

func run(ctx context.Context, o runOptions) error {
	cfg := o.cfg

	logger, err := logAdapter.New(logAdapter.Config{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: cfg.LogFile == "",
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	if cfg.PIDFile != "" {
		pf := fs.NewPIDFile(cfg.PIDFile)
		if !isDaemonChild() {
			if err := pf.Write(os.Getpid()); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}
		}
		defer func() {
			if err := pf.Remove(os.Getpid()); err != nil {
				logger.Warn("cannot remove pid file", ports.String("path", pf.Path()), ports.Err(err))
			}
		}()
	}

	channelID := cfg.ChannelID()
	logger.Info("starting channeld",
		ports.String("version", getVersion()),
		ports.String("channel", channelID.String()),
		ports.String("buffer", humanize.IBytes(uint64(channelID.BufferSize()))),
		ports.Bool("sharded", cfg.Sharded()),
		ports.Bool("balance", cfg.Balance))

	tunables, err := buildTunables(cfg, logger)
	if err != nil {
		return err
	}

	var emitter ports.EventEmitter
	if cfg.MetricsAddr != "" {
		m := metrics.New(channelID.String())
		srv, err := metrics.Listen(cfg.MetricsAddr, m, logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		emitter = m
	}

	var loc ports.Locator
	if cfg.Sharded() {
		lc, err := locator.Dial(ctx, cfg.Locator, locator.Options{
			CacheTTL: cfg.LocatorCacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer lc.Close()
		if err := lc.Ping(ctx); err != nil {
			logger.Warn("locator not answering yet", ports.String("locator", cfg.Locator), ports.Err(err))
		}
		loc = lc
	}

	exits := make(chan ports.ChildExit, 64)
	local := transport.LocalOptions{Exits: exits, Logger: logger}
	if cfg.LogFile != "" {
		out, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open worker log: %w", err)
		}
		defer out.Close()
		local.Output = out
		local.Env = []string{childLogEnv + "=" + cfg.LogFile}
	}
	connector := transport.NewConnector(local, &transport.Dialer{
		Timeout:     cfg.ConnectTimeout,
		DefaultPort: cfg.DefaultPort,
	})

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	reloads := make(chan app.Tunables, 1)
	if o.configPath != "" && cliconfig.FileExists(o.configPath) {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		w := cliconfig.NewWatcher(o.configPath, o.base, o.changed, logger, func(c cliconfig.Config) {
			t, err := buildTunables(c, logger)
			if err != nil {
				logger.Warn("config reload ignored", ports.Err(err))
				return
			}
			offerLatest(reloads, t)
		})
		go func() {
			if err := w.Run(wctx); err != nil {
				logger.Warn("config reload disabled", ports.Err(err))
			}
		}()
	}

	broker, err := app.NewBroker(brokerConfig(cfg), app.Dependencies{
		OpenChannel: func() (ports.Channel, error) {
			ch, err := sysv.Open(cfg.IPCHome, channelID, logger)
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
		Connector:   connector,
		Locator:     loc,
		Filter:      tunables.Filter,
		Digester:    tunables.Digester,
		Logger:      logger,
		Emitter:     emitter,
		Observer:    app.NotifyObserver{Notifier: systemd.NewNotifier(logger), Logger: logger},
		Signals:     sigs,
		ChildExits:  exits,
		Reloads:     reloads,
		RotateLog:   logger.Reopen,
		SetLogLevel: logger.SetLevel,
	})
	if err != nil {
		return err
	}

	err = broker.Run(ctx)
	switch {
	case err == nil:
		logger.Info("channeld stopped")
	case errors.Is(err, domain.ErrShutdownTimeout):
		logger.Warn("channeld stopped with undelivered messages", ports.Err(err))
		err = nil
	}
	return err
}

func brokerConfig(cfg cliconfig.Config) app.Config {
	c := app.DefaultConfig()
	c.Settings.Sharded = cfg.Sharded()
	if cfg.Sharded() {
		c.Settings.Service = cfg.ServiceType()
	}
	c.Settings.Balance = cfg.Balance
	c.Settings.MessageTimeout = cfg.MessageTimeout
	c.Settings.MaxPeerWrites = cfg.MaxPeerWrites
	c.Settings.MaxQueueDepth = cfg.MaxQueueDepth
	c.Peers = buildPeers(cfg)
	c.IdleWait = cfg.IdleWait
	c.ReaderTimeout = cfg.ReaderTimeout
	c.DrainTimeout = cfg.DrainTimeout
	c.InitialDelay = cfg.InitialDelay
	c.FilterLater = cfg.FilterLater
	return c
}

// buildPeers lists local workers first, then remote peers, in the order
// they were configured.
func buildPeers(cfg cliconfig.Config) []*domain.Peer {
	var peers []*domain.Peer
	for i, argv := range cfg.WorkerCommands() {
		peers = append(peers, domain.NewLocalPeer(argv[0], argv[1:], i+1))
	}
	for _, target := range cfg.Peers {
		peers = append(peers, domain.NewNetworkPeer(transport.NormalizeTarget(target, cfg.DefaultPort)))
	}
	return peers
}

func buildTunables(cfg cliconfig.Config, logger ports.Logger) (app.Tunables, error) {
	t := app.Tunables{
		MessageTimeout: cfg.MessageTimeout,
		MaxPeerWrites:  cfg.MaxPeerWrites,
		MaxQueueDepth:  cfg.MaxQueueDepth,
		FilterLater:    cfg.FilterLater,
		LogLevel:       cfg.LogLevel,
	}
	if cfg.Filter != "" {
		f, err := filter.New(cfg.Filter, logger)
		if err != nil {
			return t, err
		}
		t.Filter = f
	}
	d, err := digest.New(cfg.Checksum)
	if err != nil {
		return t, err
	}
	t.Digester = d
	return t, nil
}

// offerLatest queues t, replacing a reload the broker has not picked up yet.
func offerLatest(ch chan app.Tunables, t app.Tunables) {
	for {
		select {
		case ch <- t:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
