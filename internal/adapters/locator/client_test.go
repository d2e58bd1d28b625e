package locator

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

// fakeLocator answers datagrams from a table and records requests.
type fakeLocator struct {
	conn    net.PacketConn
	mu      sync.Mutex
	answers map[string]string
	silent  map[string]bool
	seen    []string
	done    chan struct{}
}

func newFakeLocator(t *testing.T, answers map[string]string) *fakeLocator {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	f := &fakeLocator{conn: pc, answers: answers, silent: map[string]bool{}, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() {
		_ = pc.Close()
		<-f.done
	})
	return f
}

func (f *fakeLocator) serve() {
	defer close(f.done)
	buf := make([]byte, 1024)
	for {
		n, addr, err := f.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req := string(bytes.TrimRight(buf[:n], "\x00"))
		f.mu.Lock()
		f.seen = append(f.seen, req)
		reply, ok := f.answers[req]
		silent := f.silent[req]
		f.mu.Unlock()
		if silent {
			continue
		}
		if !ok {
			reply = "!|"
		}
		_, _ = f.conn.WriteTo(append([]byte(reply), 0), addr)
	}
}

func (f *fakeLocator) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func dialFake(t *testing.T, f *fakeLocator, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), f.conn.LocalAddr().String(), opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"!|10.0.0.5:1984", "10.0.0.5:1984"},
		{"*|10.0.0.5:1984|extra\x00", "10.0.0.5:1984"},
		{"!|", ""},
		{"!", ""},
		{"", ""},
		{"?|\x00garbage", ""},
	}
	for _, tt := range tests {
		if got := parseAnswer([]byte(tt.reply)); got != tt.want {
			t.Errorf("parseAnswer(%q) = %q, want %q", tt.reply, got, tt.want)
		}
	}
}

func TestClient_Query(t *testing.T) {
	f := newFakeLocator(t, map[string]string{
		"Q|rrd|web1": "!|10.0.0.5:1984",
	})
	c := dialFake(t, f, Options{Timeout: time.Second})

	got, err := c.Query(context.Background(), "web1", domain.ServiceRRD)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "10.0.0.5:1984" {
		t.Errorf("Query() = %q", got)
	}

	_, err = c.Query(context.Background(), "db1", domain.ServiceRRD)
	if !errors.Is(err, domain.ErrNoLocatorAnswer) {
		t.Errorf("Query(unknown) error = %v, want ErrNoLocatorAnswer", err)
	}
}

func TestClient_QueryCache(t *testing.T) {
	now := time.Unix(1000, 0)
	f := newFakeLocator(t, map[string]string{
		"Q|client|web1": "!|10.0.0.5:1984",
		"Q|client|web2": "!|10.0.0.6:1984",
	})
	c := dialFake(t, f, Options{
		Timeout:  time.Second,
		CacheTTL: time.Minute,
		Now:      func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Query(ctx, "web1", domain.ServiceClient); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Query(ctx, "web2", domain.ServiceClient); err != nil {
		t.Fatal(err)
	}
	if n := len(f.requests()); n != 2 {
		t.Fatalf("requests after cached queries = %d, want 2", n)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Query(ctx, "web1", domain.ServiceClient); err != nil {
		t.Fatal(err)
	}
	if n := len(f.requests()); n != 3 {
		t.Fatalf("requests after expiry = %d, want 3", n)
	}

	if err := c.ServerDown(ctx, "10.0.0.6:1984", domain.ServiceClient); err != nil {
		t.Fatalf("ServerDown() error = %v", err)
	}
	if _, err := c.Query(ctx, "web2", domain.ServiceClient); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query(ctx, "web1", domain.ServiceClient); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"Q|client|web1",
		"Q|client|web2",
		"Q|client|web1",
		"D|10.0.0.6:1984|client",
		"Q|client|web2",
	}
	got := f.requests()
	if len(got) != len(want) {
		t.Fatalf("requests = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClient_PingAndUp(t *testing.T) {
	f := newFakeLocator(t, map[string]string{"p": "!|ok"})
	c := dialFake(t, f, Options{Timeout: time.Second})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := c.ServerUp(context.Background(), "10.0.0.5:1984", domain.ServiceAlert); err != nil {
		t.Fatalf("ServerUp() error = %v", err)
	}
	got := f.requests()
	if len(got) != 2 || got[1] != "U|10.0.0.5:1984|alert" {
		t.Errorf("requests = %q", got)
	}
}

func TestClient_Timeout(t *testing.T) {
	f := newFakeLocator(t, nil)
	f.mu.Lock()
	f.silent["p"] = true
	f.silent["D|x:1984|rrd"] = true
	f.mu.Unlock()
	c := dialFake(t, f, Options{Timeout: 50 * time.Millisecond})

	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() without reply should fail")
	}
	if err := c.ServerDown(context.Background(), "x:1984", domain.ServiceRRD); err != nil {
		t.Errorf("ServerDown() without acknowledgement error = %v, want nil", err)
	}
}
