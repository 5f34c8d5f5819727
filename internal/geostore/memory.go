package geostore

import (
	"context"
	"sort"
	"sync"

	"github.com/geotrack/geotrack/internal/location"
)

// Memory is an in-process Store for single-node deployments and tests.
type Memory struct {
	mu     sync.RWMutex
	points map[string]location.Coordinate
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]location.Coordinate)}
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, deviceID string, c location.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[deviceID] = c
	return nil
}

// Search implements Store. Ties on distance are broken by device ID.
func (m *Memory) Search(_ context.Context, center location.Coordinate, radiusKm float64) ([]Match, error) {
	m.mu.RLock()
	matches := make([]Match, 0)
	for id, c := range m.points {
		d := location.DistanceKm(center, c)
		if d <= radiusKm {
			matches = append(matches, Match{DeviceID: id, Coordinate: c, DistanceKm: d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].DeviceID < matches[j].DeviceID
	})
	return matches, nil
}

// Len returns the number of indexed devices.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}
