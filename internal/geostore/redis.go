package geostore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/geotrack/geotrack/internal/location"
)

// Redis stores coordinates in a Redis geo set.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis returns a Store backed by the geo set at key.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Upsert implements Store with GEOADD, which replaces an existing member.
func (s *Redis) Upsert(ctx context.Context, deviceID string, c location.Coordinate) error {
	err := s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      deviceID,
		Longitude: c.Lon,
		Latitude:  c.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd %s: %w", deviceID, err)
	}
	return nil
}

// Search implements Store with a read-only radius query sorted ascending.
func (s *Redis) Search(ctx context.Context, center location.Coordinate, radiusKm float64) ([]Match, error) {
	locs, err := s.client.GeoRadius(ctx, s.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}

	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		matches = append(matches, Match{
			DeviceID:   loc.Name,
			Coordinate: location.Coordinate{Lat: loc.Latitude, Lon: loc.Longitude},
			DistanceKm: loc.Dist,
		})
	}
	return matches, nil
}
