package app

import (
	"testing"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

func queued(l *PeerLink) []string {
	var out []string
	q := l.Peer.Queue
	for q.Len() > 0 {
		out = append(out, string(q.PopHead().Payload()))
	}
	return out
}

func TestEnqueue_CollapsesWhenNotUp(t *testing.T) {
	tests := []struct {
		name    string
		sharded bool
		status  domain.PeerStatus
		want    []string
	}{
		{"down non-sharded keeps newest", false, domain.StatusDown, []string{"m2"}},
		{"failed non-sharded keeps newest", false, domain.StatusFailed, []string{"m2"}},
		{"up keeps all", false, domain.StatusUp, []string{"m1", "m2"}},
		{"down sharded keeps all", true, domain.StatusDown, []string{"m1", "m2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.Sharded = tt.sharded
			st, clk := newTestState(s, domain.NewNetworkPeer("a:1984"))
			l := st.Registry.All()[0]
			l.Peer.Status = tt.status

			st.Enqueue(l, domain.NewQueuedMessage([]byte("m1"), clk.Now()))
			st.Enqueue(l, domain.NewQueuedMessage([]byte("m2"), clk.Now()))

			if st.Pending != len(tt.want) {
				t.Errorf("Pending = %d, want %d", st.Pending, len(tt.want))
			}
			got := queued(l)
			if len(got) != len(tt.want) {
				t.Fatalf("queue = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("queue = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestEnqueue_DemotesFailedPeer(t *testing.T) {
	st, clk := newTestState(DefaultSettings(), domain.NewNetworkPeer("a:1984"))
	l := st.Registry.All()[0]
	l.Peer.Status = domain.StatusFailed

	res := st.Enqueue(l, domain.NewQueuedMessage([]byte("m"), clk.Now()))
	if !res.Demoted {
		t.Error("Demoted = false, want true")
	}
	if l.Peer.Status != domain.StatusDown {
		t.Errorf("status = %v, want Down", l.Peer.Status)
	}
}

func TestEnqueue_MaxQueueDepth(t *testing.T) {
	s := DefaultSettings()
	s.MaxQueueDepth = 2
	st, clk := newTestState(s, domain.NewNetworkPeer("a:1984"))
	l := st.Registry.All()[0]
	l.Peer.Status = domain.StatusUp

	var overflow int
	for _, m := range []string{"m1", "m2", "m3", "m4"} {
		overflow += st.Enqueue(l, domain.NewQueuedMessage([]byte(m), clk.Now())).Overflow
	}
	if overflow != 2 {
		t.Errorf("overflow = %d, want 2", overflow)
	}
	if st.Pending != 2 {
		t.Errorf("Pending = %d, want 2", st.Pending)
	}
	got := queued(l)
	if len(got) != 2 || got[0] != "m3" || got[1] != "m4" {
		t.Errorf("queue = %v, want [m3 m4]", got)
	}
}

func TestSweepStale(t *testing.T) {
	s := DefaultSettings()
	s.Sharded = true
	st, clk := newTestState(s, domain.NewNetworkPeer("a:1984"))
	l := st.Registry.All()[0]

	st.Enqueue(l, domain.NewQueuedMessage([]byte("old"), clk.Now()))
	clk.Advance(20 * time.Second)
	st.Enqueue(l, domain.NewQueuedMessage([]byte("new"), clk.Now()))

	// First sweep: nothing is old enough yet, but the throttle is armed.
	if n := st.SweepStale(l, clk.Now()); n != 0 {
		t.Fatalf("first sweep evicted %d, want 0", n)
	}

	// Old enough, but still inside the flush interval.
	clk.Advance(11 * time.Second)
	if n := st.SweepStale(l, clk.Now().Add(-6*time.Second)); n != 0 {
		t.Errorf("throttled sweep evicted %d, want 0", n)
	}

	if n := st.SweepStale(l, clk.Now()); n != 1 {
		t.Errorf("sweep evicted %d, want 1", n)
	}
	if st.Pending != 1 || string(l.Peer.Queue.Head().Payload()) != "new" {
		t.Errorf("Pending = %d, head = %q", st.Pending, l.Peer.Queue.Head().Payload())
	}
}

func TestPendingMatchesQueues(t *testing.T) {
	st, clk := newTestState(DefaultSettings(), domain.NewNetworkPeer("a:1"), domain.NewNetworkPeer("b:1"))
	a, b := st.Registry.All()[0], st.Registry.All()[1]
	a.Peer.Status = domain.StatusUp

	for i := 0; i < 5; i++ {
		m := domain.NewQueuedMessage([]byte("hello"), clk.Now())
		st.Enqueue(a, m.Clone())
		st.Enqueue(b, m.Clone())
	}
	check := func(step string) {
		t.Helper()
		if st.Pending != st.QueuedTotal() {
			t.Fatalf("%s: Pending = %d, queues hold %d", step, st.Pending, st.QueuedTotal())
		}
	}
	check("enqueue")

	st.Wrote(a, 3)
	check("partial write")
	st.Wrote(a, 2)
	check("complete write")
	st.Flush(b)
	check("flush")
	clk.Advance(time.Minute)
	st.SweepStale(a, clk.Now())
	check("sweep")
	if st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}

func TestHandshakeWait(t *testing.T) {
	idle, stall := time.Second, 50*time.Millisecond
	tests := []struct {
		name     string
		pending  int
		progress bool
		want     time.Duration
	}{
		{"nothing queued", 0, false, idle},
		{"queued and moving", 3, true, 0},
		{"queued and stuck", 3, false, stall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &BrokerState{Pending: tt.pending, Progress: tt.progress}
			if got := handshakeWait(st, idle, stall); got != tt.want {
				t.Errorf("handshakeWait() = %v, want %v", got, tt.want)
			}
		})
	}
}
