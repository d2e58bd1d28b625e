package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Default waits for the handshake.
const (
	DefaultIdleWait  = time.Second
	DefaultStallWait = 50 * time.Millisecond
)

// Config configures a Broker.
type Config struct {
	Settings Settings

	// Peers are registered in order before the channel is attached.
	Peers []*domain.Peer

	IdleWait      time.Duration
	StallWait     time.Duration
	ReaderTimeout time.Duration
	DrainTimeout  time.Duration
	ChildGrace    time.Duration

	// InitialDelay is slept after connecting peers and before attaching,
	// giving workers time to start.
	InitialDelay time.Duration

	// AttachRetries bounds attempts to attach to a producer channel that is
	// not set up yet. Zero retries until the context is done.
	AttachRetries int

	FilterLater bool
}

// DefaultConfig returns a Config with default timings.
func DefaultConfig() Config {
	return Config{
		Settings:      DefaultSettings(),
		IdleWait:      DefaultIdleWait,
		StallWait:     DefaultStallWait,
		ReaderTimeout: DefaultReaderTimeout,
		DrainTimeout:  DefaultDrainTimeout,
		ChildGrace:    DefaultChildGrace,
	}
}

// Tunables are the settings that may change while running.
type Tunables struct {
	MessageTimeout time.Duration
	MaxPeerWrites  int
	MaxQueueDepth  int
	Filter         ports.Filter
	FilterLater    bool
	Digester       ports.Digester
	LogLevel       string
}

// Dependencies are the adapters a Broker drives.
type Dependencies struct {
	// OpenChannel attaches to the producer. It returns an error wrapping
	// domain.ErrChannelNotReady while the producer has not created it.
	OpenChannel func() (ports.Channel, error)

	Connector ports.Connector
	Locator   ports.Locator // required in sharded mode
	Filter    ports.Filter
	Digester  ports.Digester
	Logger    ports.Logger
	Emitter   ports.EventEmitter
	Observer  StateObserver

	// Signals carries SIGHUP, SIGINT and SIGTERM.
	Signals <-chan os.Signal
	// ChildExits carries reaped local workers.
	ChildExits <-chan ports.ChildExit
	// Reloads carries new tunables after the config file changed.
	Reloads <-chan Tunables

	// RotateLog reopens the log file.
	RotateLog func() error
	// SetLogLevel changes the log level.
	SetLogLevel func(string) error
}

// Broker is the fan-out event loop between one producer channel and its
// peers.
type Broker struct {
	cfg       Config
	deps      Dependencies
	logger    ports.Logger
	emitter   ports.EventEmitter
	lifecycle *Lifecycle

	state     *BrokerState
	router    *Router
	conns     *ConnectionManager
	handshake *Handshake
	drainer   *Drainer

	// forced is set by a termination signal received while draining.
	forced bool
}

// NewBroker creates a Broker.
func NewBroker(cfg Config, deps Dependencies) (*Broker, error) {
	if deps.OpenChannel == nil {
		return nil, fmt.Errorf("no producer channel: %w", domain.ErrInvalidConfig)
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("no connector: %w", domain.ErrInvalidConfig)
	}
	if cfg.Settings.Sharded && deps.Locator == nil {
		return nil, fmt.Errorf("sharded mode needs a locator: %w", domain.ErrInvalidConfig)
	}
	if deps.Emitter == nil {
		deps.Emitter = nopEmitter{}
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultIdleWait
	}
	if cfg.StallWait <= 0 {
		cfg.StallWait = DefaultStallWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.ChildGrace <= 0 {
		cfg.ChildGrace = DefaultChildGrace
	}

	st := NewBrokerState(cfg.Settings)
	for _, p := range cfg.Peers {
		if _, err := st.Registry.Add(p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
	}

	return &Broker{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger,
		emitter:   deps.Emitter,
		lifecycle: NewLifecycle(deps.Logger, deps.Observer),
		state:     st,
		router:    NewRouter(deps.Locator, deps.Logger, deps.Emitter),
		conns:     NewConnectionManager(deps.Connector, deps.Locator, deps.Logger, deps.Emitter),
	}, nil
}

// State returns the broker's lifecycle state.
func (b *Broker) State() State {
	return b.lifecycle.State()
}

// Run attaches to the producer and forwards messages until ctx is done, a
// termination signal arrives or the producer sends a shutdown message.
// It then detaches, drains queued messages and closes every peer.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.lifecycle.TransitionTo(StateAttaching, "start"); err != nil {
		return err
	}
	st := b.state
	// Peer I/O and locator calls keep working while draining after ctx is
	// canceled.
	bg := context.WithoutCancel(ctx)

	if !st.Settings.Sharded {
		for _, l := range st.Registry.All() {
			b.conns.Open(bg, st, l)
		}
		if d := b.cfg.InitialDelay; d > 0 {
			b.logger.Debug("waiting for peers to start", ports.Duration("delay", d))
			sleepCtx(ctx, d)
		}
	}

	ch, err := b.attach(ctx)
	if err != nil {
		b.conns.CloseAll(st, b.cfg.ChildGrace)
		if ctx.Err() != nil {
			_ = b.lifecycle.TransitionTo(StateDraining, "stopped before attach")
			_ = b.lifecycle.TransitionTo(StateStopped, "no channel")
			return nil
		}
		_ = b.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}

	b.handshake = NewHandshake(ch, b.deps.Filter, b.deps.Digester, b.cfg.FilterLater, b.cfg.ReaderTimeout, b.logger, b.emitter)
	b.drainer = NewDrainer(ch, b.conns, b.logger, b.cfg.StallWait)
	if n, ok := b.deps.Observer.(NotifyObserver); ok {
		b.drainer.OnStatus(func(s string) { _ = n.Notifier.Status(s) })
	}
	_ = b.lifecycle.TransitionTo(StateRunning, "attached to "+ch.Name())

	loopErr := b.loop(ctx, bg, st)

	_ = b.lifecycle.TransitionTo(StateDraining, "shutdown requested")
	if err := b.drainer.ReleaseProducer(); err != nil {
		b.logger.Error("cannot release producer channel", ports.Err(err))
	}
	deadline := st.Now().Add(b.cfg.DrainTimeout)
	drainErr := b.drainer.Drain(bg, st, deadline, b.pollForced)
	b.conns.CloseAll(st, b.cfg.ChildGrace)

	if loopErr != nil {
		_ = b.lifecycle.TransitionTo(StateCrashed, loopErr.Error())
		return loopErr
	}
	_ = b.lifecycle.TransitionTo(StateStopped, "drained")
	if errors.Is(drainErr, domain.ErrShutdownTimeout) {
		return drainErr
	}
	return nil
}

// loop is the running phase. It returns a non-nil error only when the
// producer channel failed.
func (b *Broker) loop(ctx, bg context.Context, st *BrokerState) error {
	var fatal error
	for st.Running {
		b.service(st)
		if ctx.Err() != nil {
			b.logger.Info("shutdown requested", ports.String("reason", ctx.Err().Error()))
			st.Running = false
		}
		if !st.Running {
			break
		}

		if err := b.pickup(bg, st); err != nil {
			b.logger.Error("producer channel failed", ports.Err(err))
			fatal = err
			st.Running = false
		}

		b.conns.WritePass(bg, st)
	}
	return fatal
}

// pickup takes at most one message from the producer and routes it.
// GotMessage is set only for a message that passed the filter. The error is
// non-nil only when the channel failed.
func (b *Broker) pickup(ctx context.Context, st *BrokerState) error {
	st.GotMessage = false
	pk, err := b.handshake.Pickup(handshakeWait(st, b.cfg.IdleWait, b.cfg.StallWait))
	switch {
	case err == nil:
		if pk.Msg != nil {
			st.GotMessage = true
			b.accept(ctx, st, pk)
		}
		return nil
	case errors.Is(err, domain.ErrNoMessage):
		return nil
	}
	return err
}

// accept handles control tags and routes the message. Control messages are
// forwarded to peers like any other message.
func (b *Broker) accept(ctx context.Context, st *BrokerState, pk Pickup) {
	switch pk.Control {
	case domain.ControlLogRotate:
		b.rotateLog()
	case domain.ControlShutdown:
		b.logger.Info("received shutdown message")
		st.Running = false
	}
	_, _ = b.router.Route(ctx, st, pk.Msg)
}

// service handles every queued signal, child exit and reload without
// blocking.
func (b *Broker) service(st *BrokerState) {
	for {
		select {
		case sig := <-b.deps.Signals:
			b.onSignal(st, sig)
		case ev := <-b.deps.ChildExits:
			b.conns.ChildExited(st, ev)
		case t := <-b.deps.Reloads:
			b.apply(st, t)
		default:
			return
		}
	}
}

func (b *Broker) onSignal(st *BrokerState, sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		b.rotateLog()
		b.conns.SignalWorkers(st, syscall.SIGHUP)
	case syscall.SIGINT, syscall.SIGTERM:
		if !st.Running {
			b.forced = true
			return
		}
		b.logger.Info("shutdown requested", ports.String("signal", sig.String()))
		st.Running = false
	}
}

// pollForced services pending events during the drain and reports whether
// a second termination request arrived.
func (b *Broker) pollForced() bool {
	b.service(b.state)
	return b.forced
}

func (b *Broker) rotateLog() {
	if b.deps.RotateLog == nil {
		return
	}
	if err := b.deps.RotateLog(); err != nil {
		b.logger.Error("cannot reopen log file", ports.Err(err))
		return
	}
	b.logger.Info("log file reopened")
}

// apply installs reloaded tunables.
func (b *Broker) apply(st *BrokerState, t Tunables) {
	if t.MessageTimeout > 0 {
		st.Settings.MessageTimeout = t.MessageTimeout
	}
	if t.MaxPeerWrites > 0 {
		st.Settings.MaxPeerWrites = t.MaxPeerWrites
	}
	st.Settings.MaxQueueDepth = t.MaxQueueDepth
	if b.handshake != nil {
		b.handshake.SetFilter(t.Filter, t.FilterLater)
		b.handshake.SetDigester(t.Digester)
	}
	if t.LogLevel != "" && b.deps.SetLogLevel != nil {
		if err := b.deps.SetLogLevel(t.LogLevel); err != nil {
			b.logger.Warn("invalid log level in reload", ports.String("level", t.LogLevel), ports.Err(err))
		}
	}
	b.logger.Info("configuration reloaded",
		ports.Duration("message_timeout", st.Settings.MessageTimeout),
		ports.Int("max_peer_writes", st.Settings.MaxPeerWrites),
		ports.Int("max_queue_depth", st.Settings.MaxQueueDepth),
		ports.Bool("filter", t.Filter != nil),
		ports.Bool("filter_later", t.FilterLater),
		ports.Bool("checksum", t.Digester != nil),
	)
}

// attach opens the producer channel, retrying with backoff while the
// producer has not created it yet.
func (b *Broker) attach(ctx context.Context) (ports.Channel, error) {
	bo := newBackoff(DefaultBackoffInitial, DefaultBackoffMax)
	for attempt := 1; ; attempt++ {
		ch, err := b.deps.OpenChannel()
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, domain.ErrChannelNotReady) {
			return nil, err
		}
		if b.cfg.AttachRetries > 0 && attempt >= b.cfg.AttachRetries {
			return nil, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		b.logger.Warn("producer channel not ready, retrying",
			ports.Int("attempt", attempt),
			ports.Duration("backoff", bo.Current()),
			ports.Err(err))
		if werr := bo.Wait(ctx); werr != nil {
			return nil, werr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// nopEmitter discards every event.
type nopEmitter struct{}

func (nopEmitter) OnReceived(int)                         {}
func (nopEmitter) OnFiltered()                            {}
func (nopEmitter) OnDropped(string)                       {}
func (nopEmitter) OnQueued(string, int)                   {}
func (nopEmitter) OnQueueDepth(string, int)               {}
func (nopEmitter) OnEvicted(string, string, int)          {}
func (nopEmitter) OnDelivered(string, int, time.Duration) {}
func (nopEmitter) OnPeerStatus(string, string)            {}
func (nopEmitter) OnPending(int)                          {}
