// Package geostore provides the geo index that holds the latest coordinate of
// every device and answers radius searches.
package geostore

import (
	"context"

	"github.com/geotrack/geotrack/internal/location"
)

// DefaultKey is the index key used when none is configured.
const DefaultKey = "device_locations"

// Match is one search result.
type Match struct {
	DeviceID   string
	Coordinate location.Coordinate
	DistanceKm float64
}

// Store is a last-write-wins coordinate index.
type Store interface {
	// Upsert replaces the coordinate stored for deviceID.
	Upsert(ctx context.Context, deviceID string, c location.Coordinate) error
	// Search returns every device within radiusKm of center, nearest first.
	Search(ctx context.Context, center location.Coordinate, radiusKm float64) ([]Match, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
