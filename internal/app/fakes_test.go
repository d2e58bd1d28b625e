package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeChannel serves queued messages and records the handshake.
type fakeChannel struct {
	mu       sync.Mutex
	msgs     [][]byte
	calls    []string
	doneErr  error
	fatalErr error
	closed   int
	waits    []time.Duration
}

func (c *fakeChannel) push(msgs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.msgs = append(c.msgs, []byte(m))
	}
}

func (c *fakeChannel) Receive(wait time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, wait)
	if len(c.msgs) == 0 {
		if c.fatalErr != nil {
			return nil, c.fatalErr
		}
		return nil, domain.ErrNoMessage
	}
	m := c.msgs[0]
	c.msgs = c.msgs[1:]
	c.calls = append(c.calls, "receive")
	return m, nil
}

func (c *fakeChannel) Done(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "done")
	return c.doneErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeChannel) Name() string { return "fake" }

func (c *fakeChannel) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// fakeTransport accepts up to budget bytes per Write.
type fakeTransport struct {
	written  []byte
	budget   int // bytes accepted per Write, 0 = unlimited
	writeErr error
	blocked  bool
	writes   int
	closed   bool
}

func (t *fakeTransport) WaitWritable(time.Duration) (bool, error) {
	return !t.blocked, nil
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	if t.blocked {
		return 0, domain.ErrWouldBlock
	}
	t.writes++
	n := len(p)
	if t.budget > 0 && n > t.budget {
		n = t.budget
	}
	t.written = append(t.written, p[:n]...)
	return n, nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// fakeProcess is a fakeTransport backed by a pretend worker.
type fakeProcess struct {
	fakeTransport
	pid     int
	signals []os.Signal
	killed  bool
	exited  chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exited: make(chan struct{})}
}

func (p *fakeProcess) PID() int                   { return p.pid }
func (p *fakeProcess) Signal(sig os.Signal) error { p.signals = append(p.signals, sig); return nil }
func (p *fakeProcess) Exited() <-chan struct{}    { return p.exited }
func (p *fakeProcess) Kill() error                { p.killed = true; close(p.exited); return nil }

// fakeConnector hands out transports and counts attempts per peer.
type fakeConnector struct {
	attempts map[string]int
	fail     map[string]error
	make     func(p *domain.Peer) ports.Transport
	opened   map[string]ports.Transport
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		attempts: make(map[string]int),
		fail:     make(map[string]error),
		opened:   make(map[string]ports.Transport),
	}
}

func (c *fakeConnector) Connect(_ context.Context, p *domain.Peer) (ports.Transport, error) {
	c.attempts[p.Name]++
	if err := c.fail[p.Name]; err != nil {
		return nil, err
	}
	var t ports.Transport
	if c.make != nil {
		t = c.make(p)
	} else {
		t = &fakeTransport{}
	}
	c.opened[p.Name] = t
	return t, nil
}

func (c *fakeConnector) transport(name string) *fakeTransport {
	switch t := c.opened[name].(type) {
	case *fakeTransport:
		return t
	case *fakeProcess:
		return &t.fakeTransport
	}
	return nil
}

// fakeLocator answers from a fixed table and records down reports.
type fakeLocator struct {
	answers map[string]string
	err     error
	queries []string
	downs   []string
}

func (l *fakeLocator) Query(_ context.Context, key string, svc domain.ServiceType) (string, error) {
	l.queries = append(l.queries, key)
	if l.err != nil {
		return "", l.err
	}
	return l.answers[key], nil
}

func (l *fakeLocator) ServerDown(_ context.Context, server string, svc domain.ServiceType) error {
	l.downs = append(l.downs, fmt.Sprintf("%s/%s", server, svc))
	return nil
}

// recordingEmitter counts broker events.
type recordingEmitter struct {
	nopEmitter
	dropped   map[string]int
	evicted   map[string]int
	delivered int
	filtered  int
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{dropped: make(map[string]int), evicted: make(map[string]int)}
}

func (e *recordingEmitter) OnDropped(reason string)                { e.dropped[reason]++ }
func (e *recordingEmitter) OnEvicted(peer, reason string, n int)   { e.evicted[reason] += n }
func (e *recordingEmitter) OnDelivered(string, int, time.Duration) { e.delivered++ }
func (e *recordingEmitter) OnFiltered()                            { e.filtered++ }

// prefixFilter accepts messages starting with prefix and records calls on
// ch.
type prefixFilter struct {
	prefix string
	ch     *fakeChannel
}

func (f prefixFilter) Accept(msg []byte) bool {
	if f.ch != nil {
		f.ch.record("filter")
	}
	return len(msg) >= len(f.prefix) && string(msg[:len(f.prefix)]) == f.prefix
}

// fixedDigest returns a constant digest.
type fixedDigest string

func (d fixedDigest) Name() string            { return "fixed" }
func (d fixedDigest) HexDigest([]byte) string { return string(d) }

// newTestState returns a state with a fake clock and the given peers.
func newTestState(settings Settings, peers ...*domain.Peer) (*BrokerState, *fakeClock) {
	st := NewBrokerState(settings)
	clk := newFakeClock()
	st.Now = clk.Now
	for _, p := range peers {
		if _, err := st.Registry.Add(p); err != nil {
			panic(err)
		}
	}
	return st, clk
}

func msg(seq int, key string) string {
	return fmt.Sprintf("@@status#%d/%s|1700000000.000000|data\n", seq, key)
}

// ctl returns a control message as the producer posts it.
func ctl(tag string, seq int) string {
	return fmt.Sprintf("@@%s#%d/*|1700000000.000000|xymond|\n", tag, seq)
}
