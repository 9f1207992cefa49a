package hub

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/net/websocket"

	"github.com/gitping-dev/gitping/pkg/security"
)

// WebSocket timeouts.
const (
	pingInterval      = 54 * time.Second
	readDeadline      = 60 * time.Second
	writeTimeout      = 10 * time.Second
	subscribeDeadline = 5 * time.Second
	idSuffixLength    = 8
)

// WebSocketHandler upgrades connections into hub subscriptions.
//
// Stream clients are not authenticated; the stream carries only the
// notification text already destined for the chat. Deploy behind access
// controls if repository activity is sensitive.
type WebSocketHandler struct {
	hub         *Hub
	connLimiter *security.ConnectionLimiter
	log         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(h *Hub, connLimiter *security.ConnectionLimiter, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         h,
		connLimiter: connLimiter,
		log:         log,
	}
}

// Handle handles a WebSocket connection.
func (h *WebSocketHandler) Handle(ws *websocket.Conn) {
	ctx := ws.Request().Context()

	defer func() {
		if err := ws.Close(); err != nil {
			h.log.Debug("failed to close websocket", "error", err)
		}
	}()

	ip := security.ClientIP(ws.Request())

	if !h.connLimiter.Add(ip) {
		h.log.Warn("connection limit exceeded", "ip", ip)
		return
	}
	defer h.connLimiter.Remove(ip)

	// Bound how long a connection may sit without subscribing
	if err := ws.SetDeadline(time.Now().Add(subscribeDeadline)); err != nil {
		h.log.Warn("failed to set deadline", "ip", ip, "error", err)
		return
	}

	var sub Subscription
	if err := websocket.JSON.Receive(ws, &sub); err != nil {
		h.log.Warn("failed to read subscription", "ip", ip, "error", err)
		return
	}

	if err := ws.SetDeadline(time.Time{}); err != nil {
		return
	}

	if err := sub.Validate(); err != nil {
		h.log.Warn("invalid subscription", "ip", ip, "error", err)
		return
	}

	client := NewClient(newClientID(), sub, ws, h.log)
	h.log.Info("websocket connection established",
		"ip", ip, "client_id", client.ID, "repository", sub.Repository)

	h.hub.Register(client)
	defer h.hub.Unregister(client.ID)

	go client.Run(ctx, pingInterval, writeTimeout)

	// Read loop exists only to detect disconnection; clients send nothing
	// after their subscription.
	if err := ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	for {
		var msg any
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			h.log.Debug("websocket read loop ended", "client_id", client.ID, "error", err)
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
	}
}

// newClientID builds a unique identifier for a stream client.
func newClientID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, idSuffixLength)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[n.Int64()]
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), b)
}
