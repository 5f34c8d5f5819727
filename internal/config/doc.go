// Package config implements configuration loading for GeoTrack.
//
// Values are layered: Defaults() baseline, then an optional YAML/JSON file,
// then GEOTRACK_* environment variables (plus REDIS_HOST / REDIS_PORT for the
// store target), then command-line flags. The merged result is validated
// before use.
package config
