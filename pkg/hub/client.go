package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Client represents a connected WebSocket subscriber.
type Client struct {
	conn         *websocket.Conn
	send         chan Notification
	done         chan struct{}
	log          *slog.Logger
	ID           string
	subscription Subscription
	closeOnce    sync.Once
}

// NewClient creates a new client for a validated subscription.
func NewClient(id string, sub Subscription, conn *websocket.Conn, log *slog.Logger) *Client {
	return &Client{
		ID:           id,
		subscription: sub,
		conn:         conn,
		send:         make(chan Notification, 100),
		done:         make(chan struct{}),
		log:          log,
	}
}

// Run sends notifications and periodic keep-alive pings to the client
// until the connection fails or the context is done.
func (c *Client) Run(ctx context.Context, pingInterval, writeTimeout time.Duration) {
	defer c.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("stream client context done", "client_id", c.ID)
			return

		case <-c.done:
			return

		case n := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.log.Warn("error setting write deadline", "client_id", c.ID, "error", err)
				return
			}
			if err := websocket.JSON.Send(c.conn, n); err != nil {
				c.log.Warn("error sending notification", "client_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			// Keep-alive ping so idle connections are not reaped
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			ping := map[string]any{
				"type":      "ping",
				"timestamp": time.Now().Format(time.RFC3339),
			}
			if err := websocket.JSON.Send(c.conn, ping); err != nil {
				c.log.Debug("error sending ping", "client_id", c.ID, "error", err)
				return
			}
		}
	}
}

// Close gracefully closes the client. The send channel is left open so a
// concurrent broadcast can never hit a closed channel; it becomes
// unreachable once the client is unregistered.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
