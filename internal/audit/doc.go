// Package audit records every location ingest as one JSON line.
//
// Entries carry the device, the submitted coordinates, the outcome with a
// normalized code, and the latency. The file is rotated by size and age.
package audit
