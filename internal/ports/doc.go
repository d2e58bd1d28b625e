// Package ports defines the interfaces (ports) that connect the broker
// core to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Channel]: the producer rendezvous (wait, copy, acknowledge, detach)
//   - [Connector] and [Transport]: opening and writing to peers
//   - [Locator]: keyed lookup of the peer responsible for a routing key
//   - [Digester]: checksum added to forwarded messages
//   - [Filter]: which messages are accepted at all
//   - [Logger]: structured logging abstraction
//   - [EventEmitter]: broker events for metrics and service managers
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with SysV IPC,
// pipes and sockets, UDP, zerolog, Prometheus and so on.
package ports
