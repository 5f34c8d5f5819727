// Package location holds the value types shared by every GeoTrack component:
// coordinates, the location update wire document, validation errors and
// great-circle distance.
package location
