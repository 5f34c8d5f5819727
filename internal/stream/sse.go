package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/location"
)

// SSEConn is a registry handle backed by a Server-Sent Events response.
type SSEConn struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex // Protect Writer access
	closed bool
	once   sync.Once
	done   chan struct{}
}

func newSSEConn(w http.ResponseWriter, writeTimeout time.Duration) *SSEConn {
	return &SSEConn{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send writes payload as one location_update event.
func (c *SSEConn) Send(_ context.Context, payload []byte) error {
	return c.write(func() error {
		if _, err := fmt.Fprintf(c.w, "event: %s\n", location.TypeLocationUpdate); err != nil {
			return fmt.Errorf("failed to write event type: %w", err)
		}
		if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("failed to write event data: %w", err)
		}
		return nil
	})
}

func (c *SSEConn) comment(text string) error {
	return c.write(func() error {
		_, err := fmt.Fprintf(c.w, ": %s\n\n", text)
		return err
	})
}

func (c *SSEConn) event(name string, data string) error {
	return c.write(func() error {
		_, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", name, data)
		return err
	})
}

// write runs fn under the writer lock with a bounded deadline, then flushes.
// A failure closes the connection.
func (c *SSEConn) write(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.shutdownLocked()
		return err
	}
	err := fn()
	if err == nil {
		err = c.rc.Flush()
	}
	// Idle streams must not trip a server-wide write timeout.
	_ = c.rc.SetWriteDeadline(time.Time{})

	if err != nil {
		c.shutdownLocked()
		return err
	}
	return nil
}

// Close ends the stream. The handler returns once it notices.
func (c *SSEConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
	return nil
}

func (c *SSEConn) shutdownLocked() {
	c.closed = true
	c.once.Do(func() { close(c.done) })
}

// ServeSSE streams location updates for deviceID until the client goes away,
// a write fails or the session is superseded.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request, deviceID string) {
	if h.rejecting() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	conn := newSSEConn(w, h.cfg.WriteTimeout)
	if err := h.track(conn); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.untrack(conn)

	log := h.log.WithFields(logrus.Fields{"device_id": deviceID, "transport": "sse"})

	w.WriteHeader(http.StatusOK)
	ready, _ := json.Marshal(map[string]string{"device_id": deviceID})
	if err := conn.event("ready", string(ready)); err != nil {
		log.WithError(err).Debug("Failed to send ready event")
		return
	}

	h.attach(deviceID, conn)
	log.Info("Live connection opened")
	defer func() {
		h.registry.Release(deviceID, conn)
		_ = conn.Close()
		log.Info("Live connection closed")
	}()

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case t := <-ticker.C:
			if err := conn.comment("heartbeat " + t.UTC().Format(time.RFC3339)); err != nil {
				log.WithError(err).Debug("Heartbeat failed, closing")
				return
			}
		}
	}
}
