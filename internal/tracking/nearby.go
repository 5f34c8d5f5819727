package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/location"
)

// DefaultRadiusKm is the search radius used when a query does not give one.
const DefaultRadiusKm = 1.0

// emptyMetadata is attached to matches with no usable cache entry.
var emptyMetadata = json.RawMessage(`{}`)

// NearbyDevice is one enriched search result.
type NearbyDevice struct {
	DeviceID string          `json:"device_id"`
	Lat      float64         `json:"lat"`
	Lon      float64         `json:"lon"`
	Metadata json.RawMessage `json:"metadata"`
}

// Nearby returns every device within radiusKm of the center, nearest first,
// with its cached payload as metadata. The result is never nil. Like ingest,
// the reads outlive a caller hang-up and are bounded by the operation timeout.
func (s *Service) Nearby(ctx context.Context, centerLat, centerLon, radiusKm float64) ([]NearbyDevice, error) {
	center := location.Coordinate{Lat: centerLat, Lon: centerLon}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm <= 0 {
		return nil, &location.ValidationError{Field: "radius_km", Reason: "must be a positive finite number"}
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	matches, err := s.deps.Geo.Search(opCtx, center, radiusKm)
	if err != nil {
		return nil, upstream(OpGeoSearch, err)
	}

	devices := make([]NearbyDevice, 0, len(matches))
	for _, m := range matches {
		payload, found, err := s.deps.Cache.Get(opCtx, m.DeviceID)
		if err != nil {
			return nil, upstream(OpCacheGet, err)
		}

		devices = append(devices, NearbyDevice{
			DeviceID: m.DeviceID,
			Lat:      m.Coordinate.Lat,
			Lon:      m.Coordinate.Lon,
			Metadata: s.metadata(m.DeviceID, payload, found),
		})
	}

	return devices, nil
}

func (s *Service) metadata(deviceID string, payload []byte, found bool) json.RawMessage {
	if !found {
		return emptyMetadata
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		s.log.WithFields(logrus.Fields{
			"device_id": deviceID,
			"bytes":     len(payload),
		}).Warn("Cached metadata is not a JSON object, substituting {}")
		return emptyMetadata
	}
	return json.RawMessage(trimmed)
}
