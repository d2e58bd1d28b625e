// Package domain contains the core entities and value objects for channeld.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure (IPC, sockets, processes, logging) and holds only the rules
// that every other layer relies on.
//
// # Entities
//
//   - [Peer]: a downstream consumer, either a local worker process or a
//     network daemon, with its status and outbound [Queue]
//   - [QueuedMessage]: one accepted message with its partial-write cursor
//   - [Queue]: per-peer FIFO with staleness eviction and collapse
//   - [RouteDecision]: how one message was classified by the router
//
// # Value objects
//
//   - [ChannelID]: which producer channel to attach to
//   - [ServiceType]: locator service class
//   - envelope helpers: [ParseRoutingKey], [ParseControlTag], [InsertDigest]
package domain
