package app

import (
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

// Default timing values for the event loop.
const (
	DefaultMessageTimeout    = 30 * time.Second
	DefaultFlushInterval     = 5 * time.Second
	DefaultReconnectInterval = 60 * time.Second
	DefaultPeerWait          = time.Millisecond
)

// Settings are the routing and delivery knobs read by the event loop.
type Settings struct {
	// Sharded routes every non-broadcast message through the locator.
	Sharded bool
	Service domain.ServiceType

	// Balance sends each message to the least-loaded peer instead of all.
	Balance bool

	// MessageTimeout is the age after which queued messages are evicted.
	MessageTimeout time.Duration

	// MaxPeerWrites caps writes per peer per iteration when a message was
	// picked up in that iteration.
	MaxPeerWrites int

	// MaxQueueDepth bounds every queue with drop-oldest when positive.
	MaxQueueDepth int

	// PeerWait bounds each writability poll.
	PeerWait time.Duration

	// FlushInterval throttles the staleness sweep per peer.
	FlushInterval time.Duration

	// ReconnectInterval is the minimum time between connect attempts.
	ReconnectInterval time.Duration
}

// DefaultSettings returns Settings with default values.
func DefaultSettings() Settings {
	return Settings{
		MessageTimeout:    DefaultMessageTimeout,
		MaxPeerWrites:     1,
		PeerWait:          DefaultPeerWait,
		FlushInterval:     DefaultFlushInterval,
		ReconnectInterval: DefaultReconnectInterval,
	}
}

// BrokerState is everything the event loop mutates. It is passed explicitly
// to every loop function and is owned by a single goroutine.
type BrokerState struct {
	Registry *Registry
	Settings Settings

	// Pending is the number of messages queued across all peers.
	Pending int

	// Running is false once shutdown has been requested.
	Running bool

	// GotMessage is set when the current iteration picked up a message.
	GotMessage bool

	// Progress is set when the last write pass wrote at least one byte.
	Progress bool

	Now func() time.Time
}

// NewBrokerState creates a running state with an empty registry.
func NewBrokerState(settings Settings) *BrokerState {
	if settings.MaxPeerWrites <= 0 {
		settings.MaxPeerWrites = 1
	}
	if settings.FlushInterval <= 0 {
		settings.FlushInterval = DefaultFlushInterval
	}
	if settings.ReconnectInterval <= 0 {
		settings.ReconnectInterval = DefaultReconnectInterval
	}
	return &BrokerState{
		Registry: NewRegistry(settings.ReconnectInterval),
		Settings: settings,
		Running:  true,
		Now:      time.Now,
	}
}

// EnqueueResult describes the side effects of queueing one message.
type EnqueueResult struct {
	// Demoted is set when a Failed peer was moved back to Down.
	Demoted bool
	// Collapsed counts older messages dropped because the peer is not Up.
	Collapsed int
	// Overflow counts messages dropped by the depth bound.
	Overflow int
}

// Enqueue appends m to the peer's queue, applying backpressure.
func (s *BrokerState) Enqueue(l *PeerLink, m *domain.QueuedMessage) EnqueueResult {
	var res EnqueueResult
	p := l.Peer

	// The locator (or the operator) believes the peer is alive, so make it
	// eligible for a reconnect.
	if p.Status == domain.StatusFailed {
		p.Status = domain.StatusDown
		res.Demoted = true
	}

	if p.Status != domain.StatusUp && !s.Settings.Sharded {
		res.Collapsed = p.Queue.Clear()
		s.Pending -= res.Collapsed
	}

	if max := s.Settings.MaxQueueDepth; max > 0 {
		for p.Queue.Len() >= max {
			if p.Queue.DropOldest() == nil {
				break
			}
			s.Pending--
			res.Overflow++
		}
	}

	p.Queue.Push(m)
	s.Pending++
	return res
}

// Wrote records n bytes written to the peer's head message and reports
// whether that message is now complete.
func (s *BrokerState) Wrote(l *PeerLink, n int) bool {
	if l.Peer.Queue.Wrote(n) {
		s.Pending--
		return true
	}
	return false
}

// Flush discards the peer's whole queue and returns the number dropped.
func (s *BrokerState) Flush(l *PeerLink) int {
	n := l.Peer.Queue.Clear()
	s.Pending -= n
	return n
}

// SweepStale evicts head messages older than the message timeout, at most
// once per flush interval per peer. It returns the number evicted.
func (s *BrokerState) SweepStale(l *PeerLink, now time.Time) int {
	p := l.Peer
	if !now.After(p.NextFlushCheck) {
		return 0
	}
	p.NextFlushCheck = now.Add(s.Settings.FlushInterval)
	if s.Settings.MessageTimeout <= 0 {
		return 0
	}
	n := p.Queue.EvictOlderThan(now.Add(-s.Settings.MessageTimeout))
	s.Pending -= n
	return n
}

// QueuedTotal recomputes the pending count from the queues.
func (s *BrokerState) QueuedTotal() int {
	total := 0
	for _, l := range s.Registry.All() {
		total += l.Peer.Queue.Len()
	}
	return total
}

// handshakeWait picks how long the next channel wait may block: the idle
// wait when nothing is queued, a poll while queued data is moving, and a
// short stall wait when queued data is stuck.
func handshakeWait(s *BrokerState, idle, stall time.Duration) time.Duration {
	if s.Pending == 0 {
		return idle
	}
	if s.Progress {
		return 0
	}
	return stall
}
