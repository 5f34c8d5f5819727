package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is a live outbound channel to one device.
//
// Implementations must be comparable (pointer receivers) because the registry
// compares handles to decide whether an entry was superseded.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
}

// DeliveryResult reports whether a payload reached a live connection.
type DeliveryResult int

const (
	NotDelivered DeliveryResult = iota
	Delivered
)

func (r DeliveryResult) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "not_delivered"
}

// Registry maps device identities to their live connection in this process.
//
// LOCKING: r.mu guards conns only. Sends run outside the lock so a slow client
// never stalls delivery to other devices; eviction after a failed send is a
// compare-and-delete so it cannot remove a newer connection registered while
// the send was in flight.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
	log   logrus.FieldLogger
}

// New creates an empty registry.
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		conns: make(map[string]Conn),
		log:   log.WithField("component", "registry"),
	}
}

// Register installs conn as the live connection for deviceID, silently
// superseding any previous entry. The previous handle is not closed.
func (r *Registry) Register(deviceID string, conn Conn) {
	r.Replace(deviceID, conn)
}

// Replace is Register that also hands back the superseded handle so the
// transport that owns it can close it.
func (r *Registry) Replace(deviceID string, conn Conn) (Conn, bool) {
	r.mu.Lock()
	previous, replaced := r.conns[deviceID]
	r.conns[deviceID] = conn
	r.mu.Unlock()

	if replaced && previous == conn {
		return nil, false
	}

	r.log.WithFields(logrus.Fields{
		"device_id":  deviceID,
		"superseded": replaced,
	}).Info("Live connection registered")

	return previous, replaced
}

// Unregister removes the entry for deviceID. Absent entries are a no-op.
func (r *Registry) Unregister(deviceID string) {
	r.mu.Lock()
	_, exists := r.conns[deviceID]
	delete(r.conns, deviceID)
	r.mu.Unlock()

	if exists {
		r.log.WithField("device_id", deviceID).Info("Live connection unregistered")
	}
}

// Release removes the entry for deviceID only while conn is still the
// registered handle. It reports whether anything was removed.
func (r *Registry) Release(deviceID string, conn Conn) bool {
	if !r.removeIfCurrent(deviceID, conn) {
		return false
	}
	r.log.WithField("device_id", deviceID).Info("Live connection released")
	return true
}

// Deliver sends payload to the live connection for deviceID.
//
// A missing entry is the common case and yields NotDelivered. A failed send
// evicts that handle, so it is never tried again.
func (r *Registry) Deliver(ctx context.Context, deviceID string, payload []byte) DeliveryResult {
	r.mu.Lock()
	conn, exists := r.conns[deviceID]
	r.mu.Unlock()

	if !exists {
		return NotDelivered
	}

	if err := conn.Send(ctx, payload); err != nil {
		evicted := r.removeIfCurrent(deviceID, conn)
		r.log.WithFields(logrus.Fields{
			"device_id": deviceID,
			"evicted":   evicted,
			"error":     err,
		}).Debug("Delivery failed")
		return NotDelivered
	}

	return Delivered
}

// Lookup returns the live connection for deviceID, if any.
func (r *Registry) Lookup(deviceID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[deviceID]
	return conn, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Devices returns the sorted identities of all live connections.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) removeIfCurrent(deviceID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.conns[deviceID]
	if !exists || current != conn {
		return false
	}
	delete(r.conns, deviceID)
	return true
}
