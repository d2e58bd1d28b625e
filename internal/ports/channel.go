package ports

import "time"

// Channel is the reader side of the producer's message rendezvous.
// Only one goroutine may use a Channel.
type Channel interface {
	// Receive waits for the next message and returns an owned copy of it.
	// wait == 0 polls; wait > 0 blocks for at most wait. It returns
	// domain.ErrNoMessage when nothing arrived (always retryable) and an
	// error wrapping domain.ErrChannelFatal when the channel is unusable.
	Receive(wait time.Duration) ([]byte, error)

	// Done tells the producer this reader has finished with the current
	// message. It gives up after timeout with domain.ErrHandshakeTimeout.
	Done(timeout time.Duration) error

	// Close detaches from the producer. Safe to call more than once.
	Close() error

	// Name identifies the channel in logs.
	Name() string
}
