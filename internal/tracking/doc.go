// Package tracking implements the two request paths of GeoTrack.
//
// UpdateLocation lands a validated position in the geo index and the metadata
// cache, then publishes the same encoded bytes on the bus. Nearby answers a
// radius query from the geo index and enriches each match from the cache.
// Neither path touches the connection registry.
package tracking
