package app

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// PeerLink is a registered peer together with its live transport.
type PeerLink struct {
	Peer *domain.Peer

	// Transport is non-nil exactly while the peer is Up.
	Transport ports.Transport

	limiter *rate.Limiter
}

// allowConnect reports whether a connect attempt may be made at now.
func (l *PeerLink) allowConnect(now time.Time) bool {
	return l.limiter.AllowN(now, 1)
}

// Registry holds peers by name, remembering registration order.
type Registry struct {
	links     []*PeerLink
	byName    map[string]*PeerLink
	reconnect time.Duration
}

// NewRegistry creates an empty registry. reconnect is the minimum interval
// between connect attempts for each peer.
func NewRegistry(reconnect time.Duration) *Registry {
	return &Registry{
		byName:    make(map[string]*PeerLink),
		reconnect: reconnect,
	}
}

// Add registers peer. Names must be unique.
func (r *Registry) Add(peer *domain.Peer) (*PeerLink, error) {
	if _, ok := r.byName[peer.Name]; ok {
		return nil, fmt.Errorf("peer %s already registered", peer.Name)
	}
	l := &PeerLink{
		Peer:    peer,
		limiter: rate.NewLimiter(rate.Every(r.reconnect), 1),
	}
	r.links = append(r.links, l)
	r.byName[peer.Name] = l
	return l, nil
}

// Get looks a peer up by name.
func (r *Registry) Get(name string) (*PeerLink, bool) {
	l, ok := r.byName[name]
	return l, ok
}

// All returns the peers in registration order. The slice must not be
// modified.
func (r *Registry) All() []*PeerLink {
	return r.links
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	return len(r.links)
}

// LeastLoaded returns the peer with the shortest queue, the earliest
// registered one on ties.
func (r *Registry) LeastLoaded() *PeerLink {
	var best *PeerLink
	for _, l := range r.links {
		if best == nil || l.Peer.Queue.Len() < best.Peer.Queue.Len() {
			best = l
		}
	}
	return best
}
