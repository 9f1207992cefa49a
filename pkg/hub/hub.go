// Package hub fans notifications out to WebSocket subscribers. It is a
// diagnostic/secondary surface: chat delivery never depends on it, and
// broadcast is best-effort with non-blocking sends.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notification is one processed webhook event as seen by stream
// subscribers: event metadata plus the formatted text, when the event
// type produces any.
type Notification struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Repository string    `json:"repository"`
	DeliveryID string    `json:"delivery_id"`
	Text       string    `json:"text,omitempty"`
}

// Hub manages WebSocket clients and notification broadcasting.
// It runs in its own goroutine and handles client registration,
// unregistration, and distribution.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan string
	broadcast  chan Notification
	stop       chan struct{}
	stopped    chan struct{}
	log        *slog.Logger
	mu         sync.RWMutex
}

// NewHub creates a new client hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan string),
		broadcast:  make(chan Notification),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's event loop.
// The context should be passed from main for proper lifecycle management.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	defer h.cleanup()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub shutting down")
			return
		case <-h.stop:
			h.log.Info("hub stop requested")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Info("stream client registered", "client_id", client.ID)

		case clientID := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[clientID]; ok {
				delete(h.clients, clientID)
				client.Close()
				h.mu.Unlock()
				h.log.Info("stream client unregistered", "client_id", clientID)
			} else {
				h.mu.Unlock()
			}

		case n := <-h.broadcast:
			// Snapshot the clients to minimize lock time
			h.mu.RLock()
			snapshot := make([]*Client, 0, len(h.clients))
			for _, client := range h.clients {
				snapshot = append(snapshot, client)
			}
			total := len(h.clients)
			h.mu.RUnlock()

			matched := 0
			dropped := 0
			for _, client := range snapshot {
				if client.subscription.matches(n) {
					// Non-blocking send
					select {
					case client.send <- n:
						matched++
					default:
						dropped++
						h.log.Warn("dropped notification for client: buffer full",
							"client_id", client.ID)
					}
				}
			}
			h.log.Debug("broadcast notification",
				"event_type", n.Type,
				"repo", n.Repository,
				"matched", matched,
				"clients", total,
				"dropped", dropped)
		}
	}
}

// Broadcast sends a notification to all matching clients.
func (h *Hub) Broadcast(n Notification) {
	select {
	case h.broadcast <- n:
	default:
		// Hub is at capacity or shutting down, drop the message
		h.log.Warn("dropping broadcast: hub at capacity or shutting down")
	}
}

// Stop signals the hub to stop.
func (h *Hub) Stop() {
	select {
	case <-h.stop:
		// Already stopped
	default:
		close(h.stop)
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.stopped
}

// Register registers a new client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client by ID.
func (h *Hub) Unregister(clientID string) {
	h.unregister <- clientID
}

// cleanup closes all client connections during shutdown.
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.Close()
	}
	h.clients = nil
}
