package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// DefaultDrainTimeout bounds how long queued messages are flushed after
// shutdown was requested.
const DefaultDrainTimeout = 30 * time.Second

// Drainer detaches from the producer and then keeps writing queued
// messages until every queue is empty or the deadline passes.
type Drainer struct {
	channel  ports.Channel
	conns    *ConnectionManager
	logger   ports.Logger
	stall    time.Duration
	released bool
	statusFn func(string)
}

// NewDrainer creates a drainer. stall is the pause between write passes
// that made no progress.
func NewDrainer(channel ports.Channel, conns *ConnectionManager, logger ports.Logger, stall time.Duration) *Drainer {
	if stall <= 0 {
		stall = DefaultStallWait
	}
	return &Drainer{
		channel:  channel,
		conns:    conns,
		logger:   logger,
		stall:    stall,
		statusFn: func(string) {},
	}
}

// OnStatus registers a callback for human-readable drain progress.
func (d *Drainer) OnStatus(fn func(string)) {
	if fn != nil {
		d.statusFn = fn
	}
}

// ReleaseProducer detaches from the producer channel so the producer no
// longer waits for this reader. Calling it again is a no-op.
func (d *Drainer) ReleaseProducer() error {
	if d.released {
		return nil
	}
	d.released = true
	if d.channel == nil {
		return nil
	}
	if err := d.channel.Close(); err != nil {
		return fmt.Errorf("release %s: %w", d.channel.Name(), err)
	}
	d.logger.Info("released producer channel", ports.String("channel", d.channel.Name()))
	return nil
}

// Released reports whether ReleaseProducer has run.
func (d *Drainer) Released() bool {
	return d.released
}

// Drain runs write passes until nothing is pending. It returns
// domain.ErrShutdownTimeout when the deadline passes first and
// context.Canceled when forced reports true.
func (d *Drainer) Drain(ctx context.Context, st *BrokerState, deadline time.Time, forced func() bool) error {
	st.Running = false
	start := st.Now()
	if st.Pending > 0 {
		d.logger.Info("draining queued messages",
			ports.Int("pending", st.Pending),
			ports.Duration("timeout", deadline.Sub(start)))
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	last := -1
	for st.Pending > 0 {
		if forced != nil && forced() {
			d.logger.Warn("forced exit while draining", ports.Int("pending", st.Pending))
			return context.Canceled
		}
		if !st.Now().Before(deadline) {
			d.logger.Warn("drain timed out", ports.Int("pending", st.Pending))
			return fmt.Errorf("%d messages still queued: %w", st.Pending, domain.ErrShutdownTimeout)
		}

		if st.Pending != last {
			last = st.Pending
			d.statusFn(fmt.Sprintf("draining %d messages", last))
		}
		if d.conns.WritePass(ctx, st) || st.Pending == 0 {
			continue
		}

		timer.Reset(d.stall)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.logger.Info("drain complete", ports.Duration("elapsed", st.Now().Sub(start)))
	return nil
}
