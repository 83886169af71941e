// Package wsservice is the WebSocket boundary collaborator of spec.md
// §6: a supervised fan-out hub that bridges gorilla/websocket
// connections to events pushed onto a runtime instance's queue. Its
// register/unregister/broadcast loop is priority-ordered the same way
// the dispatch loop is: control-plane traffic (register, unregister) is
// always drained ahead of broadcast payloads so a burst of outbound
// messages can never starve a pending connection teardown.
package wsservice

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ichor/internal/event"
	"ichor/internal/service"
)

// Upgrader is reused across connections; gorilla/websocket recommends a
// single upgrader configured once rather than one per request. Its
// CheckOrigin accepts every origin; callers that need origin checking
// should replace CheckOrigin before the first Upgrade call.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is the subset of *websocket.Conn the hub depends on, to keep
// tests free of a real network connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one registered WebSocket connection, keyed by the service
// id of whatever Ichor service owns it (e.g. a per-session consumer).
type Client struct {
	Conn  Conn
	Owner service.ID
}

// Hub is the supervised fan-out point. Its Serve loop owns the
// client set exclusively; Register/Unregister/Broadcast only ever
// communicate with it through channels, mirroring the queue's
// single-writer discipline (spec.md §4.4).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	push Pusher
	name string
}

// Pusher lets the hub surface connection lifecycle as events on the
// owning runtime instance (e.g. a RecoverableError on a failed write).
type Pusher interface {
	Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID
}

// NewHub constructs a Hub named name, fanning connection-lifecycle
// diagnostics through push.
func NewHub(push Pusher, name string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		push:       push,
		name:       name,
	}
}

// Register enqueues c for the hub's next iteration to add to the
// client set.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister enqueues c for removal.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast enqueues msg for delivery to every currently registered
// client.
func (h *Hub) Broadcast(msg []byte) { h.broadcast <- msg }

// Serve implements suture.Service. Each iteration drains Register/
// Unregister non-blockingly first (Priority 1), then blocks on the full
// select including Broadcast (Priority 2), so connection churn is never
// starved by a steady stream of outbound messages.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		_ = c.Conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			if h.push != nil {
				h.push.Push(event.TypeRecoverableError.AsType(), c.Owner, event.PriorityEvent, err)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Conn.Close()
		delete(h.clients, c)
	}
}

// ClientCount reports the number of currently registered clients, for
// diagnostics and tests.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// String implements fmt.Stringer for suture's event log.
func (h *Hub) String() string { return h.name }
