// Package notify implements dispatcher sinks for the notification fan-out
// boundary: a local websocket broadcast for connected clients and an
// optional SMS forwarder for remote push fallback.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Constants for the websocket broadcaster
const (
	// ClientBufferSize is the per-client outbound queue. Clients that fall
	// this far behind are disconnected rather than stalling the broadcast.
	ClientBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local broadcast endpoint; origin checks are the reverse proxy's job.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster fans dispatched events out to every connected websocket
// client. It satisfies dispatch.Sink and http.Handler.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[*client]struct{})}
}

// Deliver broadcasts one event to all connected clients. Never blocks: a
// client whose queue is full is dropped.
func (b *Broadcaster) Deliver(event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	var stalled []*client
	for c := range b.clients {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if len(stalled) > 0 {
		slog.Warn("Dropped stalled websocket clients", "dropped", len(stalled), "remaining", n)
	}
	return nil
}

// ClientCount reports the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, ClientBufferSize)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	slog.Debug("Websocket client connected", "remote", r.RemoteAddr)

	go b.writeLoop(c)
	b.readLoop(c)
}

// writeLoop drains the client queue onto the wire.
func (b *Broadcaster) writeLoop(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("Websocket write failed", "error", err)
			b.drop(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames; the stream is one-way. It exists to
// notice disconnects promptly.
func (b *Broadcaster) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.drop(c)
			return
		}
	}
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
	c.conn.Close()
}
