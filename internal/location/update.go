package location

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TypeLocationUpdate is the only message type carried on the bus.
const TypeLocationUpdate = "location_update"

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that both components are finite and inside their ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return &ValidationError{Field: "latitude", Reason: "must be a finite number"}
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return &ValidationError{Field: "longitude", Reason: "must be a finite number"}
	}
	if c.Lat < MinLatitude || c.Lat > MaxLatitude {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v outside [%v, %v]", c.Lat, MinLatitude, MaxLatitude)}
	}
	if c.Lon < MinLongitude || c.Lon > MaxLongitude {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v outside [%v, %v]", c.Lon, MinLongitude, MaxLongitude)}
	}
	return nil
}

// Coordinate bounds in degrees.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Update is a single position report for one device.
//
// The field order is the wire order. The same encoded bytes are stored in the
// metadata cache and published on the bus, so consumers of either see an
// identical document.
type Update struct {
	DeviceID  string  `json:"device_id"`
	Type      string  `json:"type"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp float64 `json:"timestamp"`
}

// NewUpdate validates its inputs and builds an Update stamped with at.
func NewUpdate(deviceID string, lat, lon float64, at time.Time) (Update, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return Update{}, err
	}
	if err := (Coordinate{Lat: lat, Lon: lon}).Validate(); err != nil {
		return Update{}, err
	}
	return Update{
		DeviceID:  deviceID,
		Type:      TypeLocationUpdate,
		Lat:       lat,
		Lon:       lon,
		Timestamp: EpochSeconds(at),
	}, nil
}

// Coordinate returns the position carried by the update.
func (u Update) Coordinate() Coordinate {
	return Coordinate{Lat: u.Lat, Lon: u.Lon}
}

// Marshal encodes the update in its wire form.
func (u Update) Marshal() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location update: %w", err)
	}
	return data, nil
}

// Envelope is the minimal view of a bus message needed for routing.
type Envelope struct {
	DeviceID string `json:"device_id"`
}

// ParseEnvelope extracts the routing key from a bus payload. It fails on
// anything that is not a JSON object with a non-empty device_id.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed bus payload: %w", err)
	}
	if env.DeviceID == "" {
		return Envelope{}, fmt.Errorf("malformed bus payload: missing device_id")
	}
	return env, nil
}

// ValidateDeviceID rejects empty identities.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	return nil
}

// EpochSeconds converts t into fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
