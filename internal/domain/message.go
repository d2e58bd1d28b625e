package domain

import "time"

// QueuedMessage is one message accepted into a peer's outbound queue.
// The payload is never modified after construction; partial writes only
// move the cursor.
type QueuedMessage struct {
	// Arrived is when the message was accepted from the channel.
	Arrived time.Time

	payload []byte
	off     int
}

// NewQueuedMessage wraps payload. The caller must not modify payload
// afterwards; the same slice may be shared by every peer of a broadcast.
func NewQueuedMessage(payload []byte, arrived time.Time) *QueuedMessage {
	return &QueuedMessage{Arrived: arrived, payload: payload}
}

// Payload returns the full message bytes.
func (m *QueuedMessage) Payload() []byte { return m.payload }

// Len returns the total payload length.
func (m *QueuedMessage) Len() int { return len(m.payload) }

// Remaining returns the bytes not yet written.
func (m *QueuedMessage) Remaining() []byte { return m.payload[m.off:] }

// Advance moves the write cursor by n bytes.
func (m *QueuedMessage) Advance(n int) {
	m.off += n
	if m.off > len(m.payload) {
		m.off = len(m.payload)
	}
}

// Started reports whether part of the message was already written.
func (m *QueuedMessage) Started() bool { return m.off > 0 }

// Done reports whether the whole payload has been written.
func (m *QueuedMessage) Done() bool { return m.off >= len(m.payload) }

// Clone returns a fresh message sharing the payload but with its own cursor.
func (m *QueuedMessage) Clone() *QueuedMessage {
	return &QueuedMessage{Arrived: m.Arrived, payload: m.payload}
}
