package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSConn is a registry handle backed by a WebSocket.
//
// gorilla/websocket allows one concurrent writer; writeMu serializes pushes
// and pings.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	return &WSConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send pushes payload as one text frame. A failed write closes the connection.
func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// ping sends a WebSocket ping control frame.
func (c *WSConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame (best effort) and tears down the socket. It is
// safe to call more than once.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

func (c *WSConn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// ServeWebSocket upgrades the request and runs the session for deviceID until
// the client goes away, a protocol error occurs or the session is superseded.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, deviceID string) {
	if h.rejecting() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.WithError(err).WithField("device_id", deviceID).Debug("WebSocket upgrade failed")
		return
	}

	conn := newWSConn(ws, h.cfg.WriteTimeout)
	if err := h.track(conn); err != nil {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	log := h.log.WithFields(logrus.Fields{"device_id": deviceID, "transport": "websocket"})
	h.attach(deviceID, conn)
	log.Info("Live connection opened")

	defer func() {
		h.registry.Release(deviceID, conn)
		_ = conn.Close()
		log.Info("Live connection closed")
	}()

	// The server's read timeout applies to the request, not the session.
	h.extendRead(ws)
	ws.SetPongHandler(func(string) error {
		h.extendRead(ws)
		return nil
	})

	go h.heartbeatWS(conn, log)

	// Client frames are keep-alives; their content is ignored.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
		h.extendRead(ws)
	}
}

func (h *Handler) extendRead(ws *websocket.Conn) {
	if h.cfg.ReadIdleTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
}

func (h *Handler) heartbeatWS(conn *WSConn, log logrus.FieldLogger) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				log.WithError(err).Debug("Heartbeat failed, closing")
				_ = conn.Close()
				return
			}
		}
	}
}
