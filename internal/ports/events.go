package ports

import "time"

// EventEmitter receives broker events. Implementations must be cheap; they
// are called from the event loop.
type EventEmitter interface {
	// OnReceived is called for every message picked up from the channel.
	OnReceived(bytes int)

	// OnFiltered is called when a message is rejected by the filter.
	OnFiltered()

	// OnDropped is called when a message is not queued anywhere.
	OnDropped(reason string)

	// OnQueued is called when a message is queued for peer.
	OnQueued(peer string, depth int)

	// OnQueueDepth reports peer's queue length after a write pass.
	OnQueueDepth(peer string, depth int)

	// OnEvicted is called when queued messages are discarded for peer.
	OnEvicted(peer, reason string, count int)

	// OnDelivered is called when a message was fully written to peer.
	OnDelivered(peer string, bytes int, latency time.Duration)

	// OnPeerStatus is called when peer changes status.
	OnPeerStatus(peer, status string)

	// OnPending is called with the process-wide pending count.
	OnPending(pending int)
}

// Notifier tells a service manager about the daemon's state.
type Notifier interface {
	Ready() error
	Status(status string) error
	Stopping() error
}
