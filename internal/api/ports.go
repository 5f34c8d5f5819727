// Package api defines ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"

	"github.com/geotrack/geotrack/internal/registry"
	"github.com/geotrack/geotrack/internal/relay"
	"github.com/geotrack/geotrack/internal/stream"
	"github.com/geotrack/geotrack/internal/tracking"
)

// TrackingPort defines the minimal interface the API needs from the tracking service.
type TrackingPort interface {
	UpdateLocation(ctx context.Context, deviceID string, lat, lon float64) (tracking.Update, error)
	Nearby(ctx context.Context, centerLat, centerLon, radiusKm float64) ([]tracking.NearbyDevice, error)
}

// StreamPort serves live connections for one device.
type StreamPort interface {
	ServeWebSocket(w http.ResponseWriter, r *http.Request, deviceID string)
	ServeSSE(w http.ResponseWriter, r *http.Request, deviceID string)
}

// RelayStatusPort reports the bus relay's health.
type RelayStatusPort interface {
	State() relay.State
	Stats() relay.Stats
}

// ConnectionsPort reports live connections in this process.
type ConnectionsPort interface {
	Len() int
}

// Compile-time assertions for port conformance
var _ TrackingPort = (*tracking.Service)(nil)
var _ StreamPort = (*stream.Handler)(nil)
var _ RelayStatusPort = (*relay.Relay)(nil)
var _ ConnectionsPort = (*registry.Registry)(nil)
