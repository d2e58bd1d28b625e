package ports

import (
	"context"
	"os"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

// Transport is an open byte stream to one peer.
type Transport interface {
	// WaitWritable reports whether a write can make progress, waiting at
	// most d.
	WaitWritable(d time.Duration) (bool, error)

	// Write writes as much of p as the peer accepts without blocking.
	// It returns domain.ErrWouldBlock when nothing could be written.
	Write(p []byte) (int, error)

	// Close releases the transport. For local peers this also asks the
	// worker process to terminate.
	Close() error
}

// ProcessTransport is implemented by transports backed by a local worker.
type ProcessTransport interface {
	Transport

	// PID returns the worker's process id.
	PID() int

	// Signal delivers sig to the worker.
	Signal(sig os.Signal) error

	// Kill terminates the worker forcibly.
	Kill() error

	// Exited is closed once the worker has been reaped.
	Exited() <-chan struct{}
}

// Connector opens transports for peers.
type Connector interface {
	// Connect opens a transport to peer. It may update the peer's resolved
	// address fields.
	Connect(ctx context.Context, peer *domain.Peer) (Transport, error)
}

// ChildExit reports that a local worker process was reaped.
type ChildExit struct {
	Peer   string
	PID    int
	Code   int    // exit status, -1 if killed by a signal
	Signal string // signal name when Code is -1
}
