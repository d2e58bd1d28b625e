// Package locator talks to the Xymon locator service, which maps a host to
// the server responsible for it.
//
// The protocol is one UDP datagram per request: a NUL-terminated text
// command answered by a single datagram. Only one request is in flight at a
// time per Client.
package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 5 * time.Second

const maxReply = 32768

// Options configures a Client.
type Options struct {
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// CacheTTL keeps query answers for this long. Zero disables caching.
	CacheTTL time.Duration
	Logger   ports.Logger
	// Now is the clock used for cache expiry.
	Now func() time.Time
}

type cacheEntry struct {
	server  string
	expires time.Time
}

// Client is a locator RPC client. It is safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	ttl     time.Duration
	logger  ports.Logger
	now     func() time.Time

	mu    sync.Mutex
	conn  net.Conn
	buf   []byte
	cache map[string]cacheEntry
}

// Dial connects a UDP socket to addr. No datagram is sent.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("locator dial %s: %w", addr, err)
	}
	c := &Client{
		addr:    addr,
		timeout: opts.Timeout,
		ttl:     opts.CacheTTL,
		logger:  opts.Logger,
		now:     opts.Now,
		conn:    conn,
		buf:     make([]byte, maxReply),
		cache:   make(map[string]cacheEntry),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Ping checks that the locator answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "p", true)
	return err
}

// Query returns the server handling key for svc.
func (c *Client) Query(ctx context.Context, key string, svc domain.ServiceType) (string, error) {
	ck := svc.String() + "|" + key

	c.mu.Lock()
	if e, ok := c.cache[ck]; ok {
		if c.now().Before(e.expires) {
			c.mu.Unlock()
			return e.server, nil
		}
		delete(c.cache, ck)
	}
	c.mu.Unlock()

	reply, err := c.call(ctx, "Q|"+ck, true)
	if err != nil {
		return "", err
	}
	server := parseAnswer(reply)
	if server == "" {
		return "", fmt.Errorf("locator %s for %s: %w", svc, key, domain.ErrNoLocatorAnswer)
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[ck] = cacheEntry{server: server, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return server, nil
}

// ServerDown reports that server stopped taking data for svc and forgets
// cached answers pointing at it.
func (c *Client) ServerDown(ctx context.Context, server string, svc domain.ServiceType) error {
	c.forget(server)
	_, err := c.call(ctx, "D|"+server+"|"+svc.String(), false)
	return err
}

// ServerUp reports that server accepts data for svc again.
func (c *Client) ServerUp(ctx context.Context, server string, svc domain.ServiceType) error {
	_, err := c.call(ctx, "U|"+server+"|"+svc.String(), false)
	return err
}

// Close closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) forget(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.cache {
		if e.server == server {
			delete(c.cache, k)
		}
	}
}

// call sends one request. When wantReply is false the locator's
// acknowledgement is still read, but a missing one is not an error.
func (c *Client) call(ctx context.Context, req string, wantReply bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	msg := make([]byte, len(req)+1)
	copy(msg, req)
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("locator %s send: %w", c.addr, err)
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		var ne net.Error
		if !wantReply && errors.As(err, &ne) && ne.Timeout() {
			if c.logger != nil {
				c.logger.Debug("locator did not acknowledge",
					ports.String("locator", c.addr),
					ports.String("request", req))
			}
			return nil, nil
		}
		return nil, fmt.Errorf("locator %s: %w", c.addr, err)
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// parseAnswer strips the two-character status prefix from a query reply and
// returns the server address, or "" when the locator has none.
func parseAnswer(reply []byte) string {
	if i := bytes.IndexByte(reply, 0); i >= 0 {
		reply = reply[:i]
	}
	if len(reply) < 2 {
		return ""
	}
	s := string(reply[2:])
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
