package domain

import "errors"

// Domain errors represent error conditions in the channeld domain.
// They are wrapped with context by callers and checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running broker.
	ErrAlreadyRunning = errors.New("channeld: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped broker.
	ErrNotRunning = errors.New("channeld: not running")

	// ErrShutdownTimeout is returned when the drain deadline passes with
	// messages still queued.
	ErrShutdownTimeout = errors.New("channeld: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("channeld: invalid configuration")

	// ErrNoMessage is returned by a channel wait that ended without a message
	// (poll found nothing, the bounded wait expired, or a signal interrupted it).
	// It is always retryable.
	ErrNoMessage = errors.New("channeld: no message available")

	// ErrHandshakeTimeout is returned when co-readers did not finish with the
	// current message within the reader timeout.
	ErrHandshakeTimeout = errors.New("channeld: handshake timeout")

	// ErrChannelNotReady is returned when the producer has not created the
	// channel yet.
	ErrChannelNotReady = errors.New("channeld: channel not ready")

	// ErrChannelFatal marks a channel error the broker cannot recover from.
	ErrChannelFatal = errors.New("channeld: channel failure")

	// ErrChannelClosed is returned when the channel was already released.
	ErrChannelClosed = errors.New("channeld: channel closed")

	// ErrUnsupported is returned on platforms without SysV IPC support.
	ErrUnsupported = errors.New("channeld: unsupported platform")

	// ErrMalformedEnvelope is returned when a message has no routing key.
	ErrMalformedEnvelope = errors.New("channeld: malformed envelope")

	// ErrNoLocatorAnswer is returned when the locator has no peer for a key.
	ErrNoLocatorAnswer = errors.New("channeld: no locator answer")

	// ErrNoPeer is returned when no peer is registered to take a message.
	ErrNoPeer = errors.New("channeld: no peer")

	// ErrWouldBlock is returned by a transport write that could not make
	// progress without blocking.
	ErrWouldBlock = errors.New("channeld: write would block")
)
