package domain

// RouteKind classifies how a message was routed.
type RouteKind int

const (
	RouteBroadcast RouteKind = iota
	RouteSingle
	RouteLeastLoaded
	RouteSharded
)

// String returns a human-readable representation of the kind.
func (k RouteKind) String() string {
	switch k {
	case RouteBroadcast:
		return "broadcast"
	case RouteSingle:
		return "single"
	case RouteLeastLoaded:
		return "least-loaded"
	case RouteSharded:
		return "sharded"
	default:
		return "unknown"
	}
}

// RouteDecision is the router's classification of one message.
type RouteDecision struct {
	Kind RouteKind
	Key  string
	// Targets are peer names in delivery order.
	Targets []string
}
