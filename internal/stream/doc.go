// Package stream implements the live connection transports.
//
// A client opens a WebSocket (or, failing that, a Server-Sent Events stream)
// for one device ID. The handler registers the connection in the registry,
// keeps it alive with heartbeats, and releases it when the client leaves.
// A newer connection for the same device supersedes and closes the older one.
package stream
