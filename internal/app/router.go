package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Router decides which peers receive a message and queues it for them.
type Router struct {
	locator ports.Locator
	logger  ports.Logger
	emitter ports.EventEmitter
}

// NewRouter creates a router. locator may be nil when sharding is off.
func NewRouter(locator ports.Locator, logger ports.Logger, emitter ports.EventEmitter) *Router {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Router{locator: locator, logger: logger, emitter: emitter}
}

// Route classifies msg and queues it for every target. The returned error
// says why the message was dropped; dropping is never fatal.
func (r *Router) Route(ctx context.Context, st *BrokerState, msg []byte) (domain.RouteDecision, error) {
	d, err := r.Classify(ctx, st, msg)
	if err != nil {
		reason := "unroutable"
		switch {
		case errors.Is(err, domain.ErrMalformedEnvelope):
			reason = "malformed"
		case errors.Is(err, domain.ErrNoPeer):
			reason = "no_peer"
		case errors.Is(err, domain.ErrNoLocatorAnswer):
			reason = "no_locator_answer"
		}
		r.logger.Warn("dropping message",
			ports.String("reason", reason),
			ports.String("header", headerForLog(msg)),
			ports.Err(err))
		r.emitter.OnDropped(reason)
		return d, err
	}

	r.Dispatch(st, d, msg)
	return d, nil
}

// Classify works out the route for msg without queueing it. In sharded mode
// an unseen peer address answered by the locator is registered as a Down
// network peer.
func (r *Router) Classify(ctx context.Context, st *BrokerState, msg []byte) (domain.RouteDecision, error) {
	key, err := domain.ParseRoutingKey(msg)
	if err != nil {
		return domain.RouteDecision{}, err
	}
	d := domain.RouteDecision{Key: key}

	if domain.IsBroadcast(key) {
		d.Kind = domain.RouteBroadcast
		d.Targets = peerNames(st.Registry)
		return d, nil
	}

	if st.Settings.Sharded {
		return r.shard(ctx, st, d)
	}

	switch n := st.Registry.Len(); {
	case n == 0:
		return d, domain.ErrNoPeer
	case n == 1:
		d.Kind = domain.RouteSingle
		d.Targets = []string{st.Registry.All()[0].Peer.Name}
	case st.Settings.Balance:
		d.Kind = domain.RouteLeastLoaded
		d.Targets = []string{st.Registry.LeastLoaded().Peer.Name}
	default:
		d.Kind = domain.RouteBroadcast
		d.Targets = peerNames(st.Registry)
	}
	return d, nil
}

func (r *Router) shard(ctx context.Context, st *BrokerState, d domain.RouteDecision) (domain.RouteDecision, error) {
	if r.locator == nil {
		return d, fmt.Errorf("sharded routing without a locator: %w", domain.ErrNoLocatorAnswer)
	}
	addr, err := r.locator.Query(ctx, d.Key, st.Settings.Service)
	if err != nil {
		return d, fmt.Errorf("locate %s: %w", d.Key, err)
	}
	if addr == "" {
		return d, fmt.Errorf("locate %s: %w", d.Key, domain.ErrNoLocatorAnswer)
	}

	if _, ok := st.Registry.Get(addr); !ok {
		if _, err := st.Registry.Add(domain.NewNetworkPeer(addr)); err != nil {
			return d, err
		}
		r.logger.Info("registered peer from locator",
			ports.String("peer", addr),
			ports.String("key", d.Key))
		r.emitter.OnPeerStatus(addr, domain.StatusDown.String())
	}

	d.Kind = domain.RouteSharded
	d.Targets = []string{addr}
	return d, nil
}

// Dispatch queues msg for every target of d. Broadcast targets share the
// payload; each gets its own write cursor.
func (r *Router) Dispatch(st *BrokerState, d domain.RouteDecision, msg []byte) {
	proto := domain.NewQueuedMessage(msg, st.Now())
	for _, name := range d.Targets {
		l, ok := st.Registry.Get(name)
		if !ok {
			continue
		}
		res := st.Enqueue(l, proto.Clone())
		if res.Demoted {
			r.emitter.OnPeerStatus(name, l.Peer.Status.String())
		}
		if res.Collapsed > 0 {
			r.logger.Warn("peer not up, flushing message queue",
				ports.String("peer", name),
				ports.Int("dropped", res.Collapsed))
			r.emitter.OnEvicted(name, "collapsed", res.Collapsed)
		}
		if res.Overflow > 0 {
			r.logger.Warn("peer queue full, dropped oldest messages",
				ports.String("peer", name),
				ports.Int("dropped", res.Overflow))
			r.emitter.OnEvicted(name, "overflow", res.Overflow)
		}
		r.emitter.OnQueued(name, l.Peer.Queue.Len())
	}
	r.emitter.OnPending(st.Pending)
}

func peerNames(reg *Registry) []string {
	out := make([]string, 0, reg.Len())
	for _, l := range reg.All() {
		out = append(out, l.Peer.Name)
	}
	return out
}

// headerForLog returns at most the first 80 bytes of the first line.
func headerForLog(msg []byte) string {
	line := domain.FirstLine(msg)
	if len(line) > 80 {
		line = line[:80]
	}
	return string(line)
}
