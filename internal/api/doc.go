// Package api implements the HTTP surface of GeoTrack.
//
// It exposes location ingest, proximity queries, the WebSocket and SSE live
// endpoints and a health probe, translating domain errors into the JSON error
// envelope.
package api
