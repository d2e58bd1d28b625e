package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

// Defaults for network peers.
const (
	DefaultPort           = 1984
	DefaultConnectTimeout = 2 * time.Second
)

// NetworkTransport is a TCP connection to a remote peer daemon. Dial
// returns it while the connection is still being set up; it is not
// writable until the attempt has finished.
type NetworkTransport struct {
	peer   *domain.Peer
	cancel context.CancelFunc
	done   chan struct{}

	// res is written by the connecting goroutine before done is closed.
	res     dialResult
	settled bool
}

type dialResult struct {
	conn     net.Conn
	w        fdWriter
	resolved []string // fresh candidates, nil when the peer's were reused
	offset   int      // position of the working address in the tried order
	err      error
}

// WaitWritable waits at most d for the connection and then for socket
// buffer space. A failed connection attempt is returned as the error.
func (t *NetworkTransport) WaitWritable(d time.Duration) (bool, error) {
	start := time.Now()
	if !t.ready(d) {
		return false, nil
	}
	if t.res.err != nil {
		return false, t.res.err
	}
	rest := d - time.Since(start)
	if rest < 0 {
		rest = 0
	}
	return t.res.w.WaitWritable(rest)
}

// Write writes without blocking. It returns domain.ErrWouldBlock while the
// connection is being set up.
func (t *NetworkTransport) Write(p []byte) (int, error) {
	if !t.ready(0) {
		return 0, domain.ErrWouldBlock
	}
	if t.res.err != nil {
		return 0, t.res.err
	}
	return t.res.w.Write(p)
}

// Close abandons a pending attempt and closes the connection.
func (t *NetworkTransport) Close() error {
	t.cancel()
	<-t.done
	if t.res.conn == nil {
		return nil
	}
	return t.res.conn.Close()
}

// RemoteAddr returns the connected address, or "" while connecting.
func (t *NetworkTransport) RemoteAddr() string {
	if !t.ready(0) || t.res.conn == nil {
		return ""
	}
	return t.res.conn.RemoteAddr().String()
}

// ready reports whether the attempt has finished, waiting at most d.
func (t *NetworkTransport) ready(d time.Duration) bool {
	select {
	case <-t.done:
		t.settle()
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		t.settle()
		return true
	case <-timer.C:
		return false
	}
}

// settle records the outcome on the peer. It runs on the caller's
// goroutine so the peer is never touched by the connecting goroutine.
func (t *NetworkTransport) settle() {
	if t.settled {
		return
	}
	t.settled = true
	p := t.peer
	if t.res.err != nil {
		// Resolve again next time; the target may have moved.
		p.Candidates = nil
		p.CandidateIndex = 0
		return
	}
	if t.res.resolved != nil {
		p.Candidates = t.res.resolved
		p.CandidateIndex = 0
	}
	p.CandidateIndex = (p.CandidateIndex + t.res.offset) % len(p.Candidates)
}

// Dialer connects network peers, trying every resolved address once.
type Dialer struct {
	Timeout     time.Duration
	DefaultPort int
	Resolver    *net.Resolver
}

// Dial starts connecting to peer and returns at once. Candidates are
// resolved on first use and after a round in which none of them accepted;
// the address that worked is tried first next time. Resolution and each
// candidate are bounded by the dialer's timeout.
func (d *Dialer) Dial(ctx context.Context, peer *domain.Peer) (*NetworkTransport, error) {
	if peer.Target == "" {
		return nil, fmt.Errorf("peer %s: no target", peer.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &NetworkTransport{
		peer:   peer,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	target, ordered := peer.Target, peer.Ordered()
	go func() {
		defer close(t.done)
		t.res = d.connect(ctx, target, ordered)
	}()
	return t, nil
}

func (d *Dialer) connect(ctx context.Context, target string, ordered []string) dialResult {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	var resolved []string
	if len(ordered) == 0 {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		addrs, err := d.resolve(rctx, target)
		cancel()
		if err != nil {
			return dialResult{err: err}
		}
		if len(addrs) == 0 {
			return dialResult{err: fmt.Errorf("resolve %s: no addresses", target)}
		}
		resolved, ordered = addrs, addrs
	}

	nd := net.Dialer{Timeout: timeout}
	var errs []error
	for i, addr := range ordered {
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sc, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			return dialResult{err: fmt.Errorf("dial %s: not a TCP connection", addr)}
		}
		w, err := newFDWriter(sc)
		if err != nil {
			_ = conn.Close()
			return dialResult{err: err}
		}
		return dialResult{conn: conn, w: w, resolved: resolved, offset: i}
	}
	return dialResult{err: fmt.Errorf("connect %s: %w", target, errors.Join(errs...))}
}

// resolve turns host[:port] into ip:port candidates.
func (d *Dialer) resolve(ctx context.Context, target string) ([]string, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		host = target
		p := d.DefaultPort
		if p == 0 {
			p = DefaultPort
		}
		port = strconv.Itoa(p)
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{net.JoinHostPort(ip.String(), port)}, nil
	}

	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, port))
	}
	return out, nil
}

// NormalizeTarget appends the default port when target has none.
func NormalizeTarget(target string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}
	return net.JoinHostPort(target, strconv.Itoa(defaultPort))
}
