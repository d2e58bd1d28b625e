package domain

import (
	"fmt"
	"time"
)

// PeerKind tells how a peer is reached.
type PeerKind int

const (
	// PeerLocal is a worker subprocess fed through its stdin.
	PeerLocal PeerKind = iota
	// PeerNetwork is a remote daemon reached over TCP.
	PeerNetwork
)

// String returns a human-readable representation of the kind.
func (k PeerKind) String() string {
	switch k {
	case PeerLocal:
		return "local"
	case PeerNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// PeerStatus is the transport state of a peer.
type PeerStatus int

const (
	// StatusDown means no transport; a connect may be attempted.
	StatusDown PeerStatus = iota
	// StatusUp means the peer owns a live transport.
	StatusUp
	// StatusFailed means the last write failed; the peer is not retried until
	// a new message is queued for it.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s PeerStatus) String() string {
	switch s {
	case StatusDown:
		return "Down"
	case StatusUp:
		return "Up"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Peer is one downstream consumer and its outbound queue.
type Peer struct {
	// Name uniquely identifies the peer in the registry.
	Name   string
	Kind   PeerKind
	Status PeerStatus

	// Queue holds messages not yet written to the peer.
	Queue *Queue

	// NextFlushCheck throttles staleness sweeps for this peer.
	NextFlushCheck time.Time

	// Network peers.
	Target         string   // host:port as configured or answered by the locator
	Candidates     []string // resolved ip:port addresses, in preference order
	CandidateIndex int      // next candidate to try

	// Local peers.
	Command string
	Args    []string
	PID     int
}

// NewLocalPeer creates a Down local peer. seq distinguishes several copies
// of the same command.
func NewLocalPeer(command string, args []string, seq int) *Peer {
	argv := make([]string, len(args))
	copy(argv, args)
	return &Peer{
		Name:    fmt.Sprintf("%s:%d", command, seq),
		Kind:    PeerLocal,
		Status:  StatusDown,
		Queue:   NewQueue(8),
		Command: command,
		Args:    argv,
	}
}

// NewNetworkPeer creates a Down network peer named after its target.
func NewNetworkPeer(target string) *Peer {
	return &Peer{
		Name:   target,
		Kind:   PeerNetwork,
		Status: StatusDown,
		Queue:  NewQueue(8),
		Target: target,
	}
}

// Ordered returns the candidate addresses starting at CandidateIndex.
func (p *Peer) Ordered() []string {
	n := len(p.Candidates)
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.Candidates[(p.CandidateIndex+i)%n])
	}
	return out
}
