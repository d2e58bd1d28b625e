package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

func writeAll(t *testing.T, tr ports.Transport, p []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(p) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("write did not complete")
		}
		ok, err := tr.WaitWritable(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("WaitWritable() = %v", err)
		}
		if !ok {
			continue
		}
		n, err := tr.Write(p)
		if err != nil && !errors.Is(err, domain.ErrWouldBlock) {
			t.Fatalf("Write() = %v", err)
		}
		p = p[n:]
	}
}

func TestLocalTransport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	exits := make(chan ports.ChildExit, 1)
	peer := domain.NewLocalPeer("/bin/sh", []string{"-c", `cat > "$OUTFILE"; exit 3`}, 1)

	tr, err := StartLocal(peer, LocalOptions{
		Env:   []string{"OUTFILE=" + out},
		Exits: exits,
	})
	if err != nil {
		t.Skipf("cannot start /bin/sh: %v", err)
	}
	if tr.PID() <= 0 {
		t.Errorf("PID() = %d", tr.PID())
	}

	const payload = "@@status#1/h|1|x\n@@\n"
	writeAll(t, tr, []byte(payload))
	// EOF on stdin lets the worker finish on its own.
	_ = tr.w.Close()

	select {
	case ev := <-exits:
		if ev.Peer != "/bin/sh:1" || ev.PID != tr.PID() {
			t.Errorf("exit event = %+v", ev)
		}
		if ev.Code != 3 || ev.Signal != "" {
			t.Errorf("exit = %d/%q, want 3", ev.Code, ev.Signal)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not reaped")
	}
	select {
	case <-tr.Exited():
	default:
		t.Error("Exited() not closed after reap")
	}
	_ = tr.Close()

	data, _ := os.ReadFile(out)
	if string(data) != payload {
		t.Errorf("worker received %q, want %q", data, payload)
	}
}

func TestLocalTransport_BrokenPipe(t *testing.T) {
	peer := domain.NewLocalPeer("/bin/sh", []string{"-c", "exit 0"}, 1)
	tr, err := StartLocal(peer, LocalOptions{})
	if err != nil {
		t.Skipf("cannot start /bin/sh: %v", err)
	}
	defer tr.Close()
	<-tr.Exited()

	_, err = tr.Write([]byte("hello"))
	if !errors.Is(err, syscall.EPIPE) {
		t.Errorf("Write() after worker exit = %v, want EPIPE", err)
	}
}

func TestStartLocal_MissingCommand(t *testing.T) {
	peer := domain.NewLocalPeer(filepath.Join(t.TempDir(), "nope"), nil, 1)
	if _, err := StartLocal(peer, LocalOptions{}); err == nil {
		t.Error("StartLocal() should fail for a missing command")
	}
}

func TestDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		got <- string(b)
	}()

	// A refused address first: the dialer must move on to the next one.
	refused, _ := net.Listen("tcp", "127.0.0.1:0")
	dead := refused.Addr().String()
	refused.Close()

	peer := domain.NewNetworkPeer("collector.example:1984")
	peer.Candidates = []string{dead, ln.Addr().String()}

	d := &Dialer{Timeout: time.Second}
	tr, err := d.Dial(context.Background(), peer)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}

	writeAll(t, tr, []byte("@@status#1/h|1|x\n"))
	if peer.CandidateIndex != 1 {
		t.Errorf("CandidateIndex = %d, want 1", peer.CandidateIndex)
	}
	if tr.RemoteAddr() != ln.Addr().String() {
		t.Errorf("RemoteAddr() = %s", tr.RemoteAddr())
	}
	tr.Close()

	select {
	case s := <-got:
		if s != "@@status#1/h|1|x\n" {
			t.Errorf("server got %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server got nothing")
	}
}

// waitResult polls tr until the connection attempt has an outcome.
func waitResult(t *testing.T, tr *NetworkTransport) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok, err := tr.WaitWritable(10 * time.Millisecond)
		if err != nil || ok {
			return err
		}
	}
	t.Fatal("connection attempt did not finish")
	return nil
}

func TestDialer_AllRefused(t *testing.T) {
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := l.Addr().String()
	l.Close()

	peer := domain.NewNetworkPeer(addr)
	d := &Dialer{Timeout: time.Second}
	tr, err := d.Dial(context.Background(), peer)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer tr.Close()
	if err := waitResult(t, tr); err == nil {
		t.Fatal("connection to a closed port should fail")
	}
	if _, err := tr.Write([]byte("x")); err == nil || errors.Is(err, domain.ErrWouldBlock) {
		t.Errorf("Write() after failed connect = %v", err)
	}
	if peer.Candidates != nil {
		t.Errorf("Candidates = %v, want reset after a failed round", peer.Candidates)
	}
}

// hangingResolver never answers a DNS query until the context ends.
func hangingResolver() *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func TestDialer_DoesNotBlockOnResolve(t *testing.T) {
	peer := domain.NewNetworkPeer("collector.invalid:1984")
	d := &Dialer{Timeout: 200 * time.Millisecond, Resolver: hangingResolver()}

	start := time.Now()
	tr, err := d.Dial(context.Background(), peer)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer tr.Close()
	if ok, err := tr.WaitWritable(0); ok || err != nil {
		t.Errorf("WaitWritable(0) while resolving = %v, %v", ok, err)
	}
	if _, err := tr.Write([]byte("x")); !errors.Is(err, domain.ErrWouldBlock) {
		t.Errorf("Write() while resolving = %v, want ErrWouldBlock", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Dial() and polls took %v", time.Since(start))
	}

	if err := waitResult(t, tr); err == nil {
		t.Error("resolution should time out")
	}
}

func TestNetworkTransport_CloseAbandonsAttempt(t *testing.T) {
	peer := domain.NewNetworkPeer("collector.invalid:1984")
	d := &Dialer{Timeout: time.Minute, Resolver: hangingResolver()}
	tr, err := d.Dial(context.Background(), peer)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not cancel the pending attempt")
	}
}

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1:1985", "10.0.0.1:1985"},
		{"10.0.0.1", "10.0.0.1:1984"},
		{"collector", "collector:1984"},
		{"::1", "[::1]:1984"},
		{"[::1]:2000", "[::1]:2000"},
	}
	for _, tt := range tests {
		if got := NormalizeTarget(tt.in, 0); got != tt.want {
			t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConnector_Dispatch(t *testing.T) {
	c := NewConnector(LocalOptions{}, nil)
	p := &domain.Peer{Name: "odd", Kind: domain.PeerKind(9)}
	if _, err := c.Connect(context.Background(), p); err == nil {
		t.Error("Connect() should fail for an unknown kind")
	}
}
