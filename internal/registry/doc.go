// Package registry implements the per-process connection registry.
//
// The registry maps each device identity to at most one live outbound
// connection. Transports register a handle when a client connects and release
// it on close; the bus relay delivers every received update through Deliver.
// A handle whose send fails is evicted on the spot.
package registry
