package stream

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/config"
	"github.com/geotrack/geotrack/internal/registry"
)

// ErrClosed is returned by Send on a connection that has gone away.
var ErrClosed = errors.New("connection closed")

// ErrShuttingDown rejects new sessions once Close has been called.
var ErrShuttingDown = errors.New("stream handler shutting down")

// Registrar is the registry surface the transports need.
type Registrar interface {
	Replace(deviceID string, conn registry.Conn) (registry.Conn, bool)
	Release(deviceID string, conn registry.Conn) bool
}

// Handler serves WebSocket and SSE sessions.
//
// Sessions are hijacked or long-lived, so http.Server.Shutdown does not wait
// for them; Close ends every open session instead.
type Handler struct {
	registry Registrar
	cfg      config.StreamConfig
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu       sync.Mutex
	sessions map[io.Closer]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHandler creates a handler that registers sessions in reg.
func NewHandler(reg Registrar, cfg config.StreamConfig, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		registry: reg,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Devices and dashboards connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:      log.WithField("component", "stream"),
		sessions: make(map[io.Closer]struct{}),
	}
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close ends every open session, waits for their handlers to return and
// rejects new ones.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]io.Closer, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	h.wg.Wait()
}

func (h *Handler) track(s io.Closer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrShuttingDown
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return nil
}

func (h *Handler) untrack(s io.Closer) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// attach registers conn for deviceID and closes whatever it superseded.
func (h *Handler) attach(deviceID string, conn registry.Conn) {
	previous, replaced := h.registry.Replace(deviceID, conn)
	if !replaced {
		return
	}
	if c, ok := previous.(io.Closer); ok {
		_ = c.Close()
	}
}

func (h *Handler) rejecting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
