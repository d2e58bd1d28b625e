package app

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// DefaultChildGrace is how long local workers get to exit after being asked
// to terminate before they are killed.
const DefaultChildGrace = 5 * time.Second

// ConnectionManager opens, writes to and tears down peer transports.
type ConnectionManager struct {
	connector ports.Connector
	locator   ports.Locator
	logger    ports.Logger
	emitter   ports.EventEmitter
}

// NewConnectionManager creates a connection manager. locator may be nil.
func NewConnectionManager(connector ports.Connector, locator ports.Locator, logger ports.Logger, emitter ports.EventEmitter) *ConnectionManager {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &ConnectionManager{
		connector: connector,
		locator:   locator,
		logger:    logger,
		emitter:   emitter,
	}
}

// Open tries to bring a Down peer Up. Attempts are rate-limited per peer;
// a refused attempt returns false without touching the transport.
func (c *ConnectionManager) Open(ctx context.Context, st *BrokerState, l *PeerLink) bool {
	p := l.Peer
	if p.Status == domain.StatusUp {
		return true
	}
	p.Status = domain.StatusDown

	if !l.allowConnect(st.Now()) {
		return false
	}

	t, err := c.connector.Connect(ctx, p)
	if err != nil {
		c.logger.Warn("cannot connect to peer",
			ports.String("peer", p.Name),
			ports.String("kind", p.Kind.String()),
			ports.Err(err))
		return false
	}

	l.Transport = t
	p.Status = domain.StatusUp
	fields := []ports.Field{
		ports.String("peer", p.Name),
		ports.String("kind", p.Kind.String()),
	}
	if pt, ok := t.(ports.ProcessTransport); ok {
		p.PID = pt.PID()
		fields = append(fields, ports.Int("pid", p.PID))
	}
	c.logger.Info("peer up", fields...)
	c.emitter.OnPeerStatus(p.Name, p.Status.String())
	return true
}

// WritePass visits every peer with queued data once: it connects Down
// peers, sweeps stale messages, flushes undeliverable queues during
// shutdown and writes to Up peers. It reports whether any byte was written.
func (c *ConnectionManager) WritePass(ctx context.Context, st *BrokerState) bool {
	progress := false
	now := st.Now()

	for _, l := range st.Registry.All() {
		p := l.Peer
		if p.Queue.Empty() {
			continue
		}

		writable := false
		switch p.Status {
		case domain.StatusUp:
			writable = true
		case domain.StatusDown:
			if st.Running {
				writable = c.Open(ctx, st, l)
			}
		}

		if n := st.SweepStale(l, now); n > 0 {
			c.logger.Warn("flushed stale messages",
				ports.String("peer", p.Name),
				ports.Int("count", n),
				ports.Duration("timeout", st.Settings.MessageTimeout))
			c.emitter.OnEvicted(p.Name, "stale", n)
		}

		if !st.Running && !writable {
			if n := st.Flush(l); n > 0 {
				c.logger.Warn("peer not up during shutdown, dropping queue",
					ports.String("peer", p.Name),
					ports.String("status", p.Status.String()),
					ports.Int("count", n))
				c.emitter.OnEvicted(p.Name, "shutdown", n)
			}
			c.emitter.OnQueueDepth(p.Name, 0)
			continue
		}

		if writable && c.writePeer(ctx, st, l, now) {
			progress = true
		}
		c.emitter.OnQueueDepth(p.Name, p.Queue.Len())
	}

	st.Progress = progress
	c.emitter.OnPending(st.Pending)
	return progress
}

// writePeer writes queued data to an Up peer until the queue is empty, the
// peer stops accepting data, or the per-iteration write cap is reached.
func (c *ConnectionManager) writePeer(ctx context.Context, st *BrokerState, l *PeerLink, now time.Time) bool {
	p := l.Peer
	progress := false
	writes := 0

	for !p.Queue.Empty() {
		ready, err := l.Transport.WaitWritable(st.Settings.PeerWait)
		if err != nil {
			c.Fail(ctx, st, l, err)
			return progress
		}
		if !ready {
			return progress
		}

		head := p.Queue.Head()
		size, arrived := head.Len(), head.Arrived
		n, err := l.Transport.Write(head.Remaining())
		if n > 0 {
			progress = true
			if st.Wrote(l, n) {
				c.emitter.OnDelivered(p.Name, size, now.Sub(arrived))
			}
		}
		if err != nil {
			if errors.Is(err, domain.ErrWouldBlock) {
				return progress
			}
			c.Fail(ctx, st, l, err)
			return progress
		}

		writes++
		if st.GotMessage && writes >= st.Settings.MaxPeerWrites {
			return progress
		}
	}
	return progress
}

// Fail handles a hard transport error: the transport is closed, the queue
// flushed and the peer marked Failed. In sharded mode the locator is told
// the server is down.
func (c *ConnectionManager) Fail(ctx context.Context, st *BrokerState, l *PeerLink, cause error) {
	p := l.Peer
	c.closeTransport(l)
	droppedBytes := p.Queue.Bytes()
	dropped := st.Flush(l)
	p.Status = domain.StatusFailed

	c.logger.Error("peer failed",
		ports.String("peer", p.Name),
		ports.String("kind", p.Kind.String()),
		ports.Int("dropped", dropped),
		ports.String("dropped_bytes", humanize.IBytes(uint64(droppedBytes))),
		ports.Err(cause))
	c.emitter.OnPeerStatus(p.Name, p.Status.String())
	if dropped > 0 {
		c.emitter.OnEvicted(p.Name, "failed", dropped)
	}

	if p.Kind == domain.PeerNetwork && st.Settings.Sharded && c.locator != nil {
		if err := c.locator.ServerDown(ctx, p.Name, st.Settings.Service); err != nil {
			c.logger.Warn("cannot report server down to locator",
				ports.String("peer", p.Name),
				ports.Err(err))
		}
	}
}

// ChildExited records that a local worker was reaped. Whatever was queued
// for it is dropped, since a partly written message cannot be resumed on a
// new worker, and the peer is marked Failed. The next message for it
// restarts the worker.
func (c *ConnectionManager) ChildExited(st *BrokerState, ev ports.ChildExit) {
	fields := []ports.Field{
		ports.String("peer", ev.Peer),
		ports.Int("pid", ev.PID),
	}
	if ev.Signal != "" {
		fields = append(fields, ports.String("signal", ev.Signal))
	} else {
		fields = append(fields, ports.Int("status", ev.Code))
	}

	l, ok := st.Registry.Get(ev.Peer)
	if !ok || l.Peer.PID != ev.PID {
		c.logger.Debug("reaped worker", fields...)
		return
	}

	p := l.Peer
	c.closeTransport(l)
	p.PID = 0
	droppedBytes := p.Queue.Bytes()
	dropped := st.Flush(l)
	fields = append(fields,
		ports.Int("dropped", dropped),
		ports.String("dropped_bytes", humanize.IBytes(uint64(droppedBytes))))

	if ev.Code == 0 && ev.Signal == "" {
		c.logger.Info("worker exited", fields...)
	} else {
		c.logger.Warn("worker exited abnormally", fields...)
	}
	if dropped > 0 {
		c.emitter.OnEvicted(p.Name, "exited", dropped)
	}
	c.emitter.OnQueueDepth(p.Name, 0)
	if p.Status != domain.StatusFailed {
		p.Status = domain.StatusFailed
		c.emitter.OnPeerStatus(p.Name, p.Status.String())
	}
}

// SignalWorkers delivers sig to every running local worker.
func (c *ConnectionManager) SignalWorkers(st *BrokerState, sig os.Signal) {
	for _, l := range st.Registry.All() {
		pt, ok := l.Transport.(ports.ProcessTransport)
		if !ok || l.Peer.Status != domain.StatusUp {
			continue
		}
		if err := pt.Signal(sig); err != nil {
			c.logger.Warn("cannot signal worker",
				ports.String("peer", l.Peer.Name),
				ports.Int("pid", pt.PID()),
				ports.String("signal", sig.String()),
				ports.Err(err))
		}
	}
}

// CloseAll closes every transport. Local workers get grace to exit after
// being asked to terminate and are killed if still running.
func (c *ConnectionManager) CloseAll(st *BrokerState, grace time.Duration) {
	var workers []ports.ProcessTransport
	var names []string
	for _, l := range st.Registry.All() {
		if pt, ok := l.Transport.(ports.ProcessTransport); ok {
			workers = append(workers, pt)
			names = append(names, l.Peer.Name)
		}
		c.closeTransport(l)
		if l.Peer.Status == domain.StatusUp {
			l.Peer.Status = domain.StatusDown
		}
	}
	if len(workers) == 0 {
		return
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for i, pt := range workers {
		select {
		case <-pt.Exited():
			continue
		case <-deadline.C:
		}
		// Grace is used up; kill everything still running.
		for j := i; j < len(workers); j++ {
			select {
			case <-workers[j].Exited():
				continue
			default:
			}
			c.logger.Warn("worker did not exit, killing",
				ports.String("peer", names[j]),
				ports.Int("pid", workers[j].PID()))
			if err := workers[j].Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				c.logger.Error("cannot kill worker",
					ports.String("peer", names[j]),
					ports.Err(err))
			}
		}
		return
	}
}

func (c *ConnectionManager) closeTransport(l *PeerLink) {
	if l.Transport == nil {
		return
	}
	if err := l.Transport.Close(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EPIPE) {
		c.logger.Debug("error closing transport",
			ports.String("peer", l.Peer.Name),
			ports.Err(err))
	}
	l.Transport = nil
}
