// Package transport opens byte streams to peers: a pipe into a local worker
// process or a TCP connection to a remote daemon.
package transport

import (
	"context"
	"fmt"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Connector implements ports.Connector for both peer kinds.
type Connector struct {
	Local  LocalOptions
	Dialer *Dialer
}

// NewConnector creates a Connector.
func NewConnector(local LocalOptions, dialer *Dialer) *Connector {
	if dialer == nil {
		dialer = &Dialer{}
	}
	return &Connector{Local: local, Dialer: dialer}
}

// Connect opens a transport for peer.
func (c *Connector) Connect(ctx context.Context, peer *domain.Peer) (ports.Transport, error) {
	switch peer.Kind {
	case domain.PeerLocal:
		t, err := StartLocal(peer, c.Local)
		if err != nil {
			return nil, err
		}
		return t, nil
	case domain.PeerNetwork:
		t, err := c.Dialer.Dial(ctx, peer)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("peer %s: unknown kind %v", peer.Name, peer.Kind)
	}
}
