package domain

import "time"

// Queue is a FIFO of messages waiting for one peer. It is a growable ring
// buffer and is not safe for concurrent use; the broker loop owns it.
type Queue struct {
	buf   []*QueuedMessage
	head  int
	count int
	bytes int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue(initialCapacity int) *Queue {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue{buf: make([]*QueuedMessage, initialCapacity)}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return q.count }

// Bytes returns the number of unwritten bytes across all queued messages.
func (q *Queue) Bytes() int { return q.bytes }

// Empty reports whether the queue holds no messages.
func (q *Queue) Empty() bool { return q.count == 0 }

// Push appends m at the tail, doubling capacity when full.
func (q *Queue) Push(m *QueuedMessage) {
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = m
	q.count++
	q.bytes += len(m.Remaining())
}

// Head returns the oldest message, or nil if empty.
func (q *Queue) Head() *QueuedMessage {
	if q.count == 0 {
		return nil
	}
	return q.buf[q.head]
}

// PopHead removes and returns the oldest message, or nil if empty.
func (q *Queue) PopHead() *QueuedMessage {
	if q.count == 0 {
		return nil
	}
	m := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.bytes -= len(m.Remaining())
	if q.count == 0 {
		q.head = 0
		q.bytes = 0
	}
	return m
}

// Wrote records that n bytes of the head message were written.
// It returns true if the head message is now complete and was removed.
func (q *Queue) Wrote(n int) bool {
	m := q.Head()
	if m == nil {
		return false
	}
	before := len(m.Remaining())
	m.Advance(n)
	q.bytes -= before - len(m.Remaining())
	if m.Done() {
		q.PopHead()
		return true
	}
	return false
}

// Clear removes every message and returns how many were dropped.
func (q *Queue) Clear() int {
	n := q.count
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head, q.count, q.bytes = 0, 0, 0
	return n
}

// EvictOlderThan removes head messages that arrived before cutoff and
// returns how many were removed. Only the head is examined, so a fresh
// message blocks eviction of anything behind it. A partly written head is
// never evicted.
func (q *Queue) EvictOlderThan(cutoff time.Time) int {
	n := 0
	for q.count > 0 && !q.buf[q.head].Started() && q.buf[q.head].Arrived.Before(cutoff) {
		q.PopHead()
		n++
	}
	return n
}

// DropOldest removes and returns the oldest message that has not been
// partly written, or nil if there is none.
func (q *Queue) DropOldest() *QueuedMessage {
	if q.count == 0 {
		return nil
	}
	h := q.buf[q.head]
	if !h.Started() {
		return q.PopHead()
	}
	if q.count < 2 {
		return nil
	}
	second := (q.head + 1) % len(q.buf)
	victim := q.buf[second]
	q.buf[second] = h
	q.buf[q.head] = nil
	q.head = second
	q.count--
	q.bytes -= len(victim.Remaining())
	return victim
}

// CollapseToNewest drops everything but the newest message and returns the
// number dropped.
func (q *Queue) CollapseToNewest() int {
	if q.count <= 1 {
		return 0
	}
	newest := q.buf[(q.head+q.count-1)%len(q.buf)]
	n := q.Clear() - 1
	q.Push(newest)
	return n
}

func (q *Queue) grow() {
	next := make([]*QueuedMessage, len(q.buf)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
