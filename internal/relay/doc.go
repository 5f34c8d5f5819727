// Package relay drains the broadcast bus into the local connection registry.
//
// One Relay runs per process. It holds a single subscription, blocks on
// Receive, extracts the device_id of each message and hands the raw payload to
// the registry. Messages for devices with no live connection here are dropped.
// When the bus breaks the relay resubscribes with exponential backoff, forever.
package relay
