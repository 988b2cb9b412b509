package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Hub pushes events to every connected websocket client. It is both a
// Listener and the http.Handler that accepts new connections.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewHub creates an empty hub. Origins are checked by the HTTP layer's CORS
// policy, so the upgrader accepts any origin.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.WithPrefix("hub"),
		conns:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	h.mu.Unlock()
	h.logger.Debug("client connected", "remote", r.RemoteAddr)

	// Clients never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

// Send writes e to every client. Clients that fail the write are dropped;
// their failure is not reported.
func (h *Hub) Send(ctx context.Context, e *Event) error {
	h.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(h.conns))
	for c, wmu := range h.conns {
		targets[c] = wmu
	}
	h.mu.Unlock()

	for conn, wmu := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(e)
		wmu.Unlock()
		if err != nil {
			h.logger.Debug("dropping client", "error", err)
			h.drop(conn)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for c := range conns {
		c.Close()
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}
