package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/hyperengineering/labsync/internal/remote"
)

// Hub fans committed changes out to websocket subscribers.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan remote.Change
}

// NewHub creates a Hub. Call Run to start delivery.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan remote.Change, 100),
	}
}

// Publish queues a change for delivery. Changes are dropped when the
// buffer is full; subscribers re-read the table on the next change anyway.
func (h *Hub) Publish(c remote.Change) {
	select {
	case h.broadcast <- c:
	default:
		slog.Warn("change broadcast buffer full, dropping change",
			"table", c.Table,
			"component", "hub",
		)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Run delivers published changes until ctx is cancelled, then closes
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.clientsMu.Lock()
			for conn := range h.clients {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				delete(h.clients, conn)
			}
			h.clientsMu.Unlock()
			return
		case c := <-h.broadcast:
			data, err := json.Marshal(c)
			if err != nil {
				slog.Error("failed to marshal change", "error", err, "component", "hub")
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.remove(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and holds the subscription open until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "component", "hub")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	slog.Debug("change subscriber connected", "clients", count, "component", "hub")

	// Subscribers never send; CloseRead discards input and ends ctx on disconnect.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	h.remove(conn)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}
