// Package client provides a reconnecting WebSocket client for the live
// notification stream. It handles automatic reconnection with jittered
// backoff and keep-alive ping handling.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/net/websocket"
)

// Notification is one event received from the stream.
type Notification struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Repository string    `json:"repository"`
	DeliveryID string    `json:"delivery_id"`
	Text       string    `json:"text,omitempty"`
}

// Config holds the configuration for the stream client.
type Config struct {
	Logger         *slog.Logger
	OnNotification func(Notification)
	OnConnect      func()
	OnDisconnect   func(error)
	ServerURL      string
	Repository     string
	EventTypes     []string
	MaxBackoff     time.Duration
	MaxRetries     int
	NoReconnect    bool
}

// Client is a WebSocket stream subscriber with automatic reconnection.
type Client struct {
	logger    *slog.Logger
	ws        *websocket.Conn
	stopCh    chan struct{}
	stoppedCh chan struct{}
	config    Config
	mu        sync.Mutex
	retries   int
}

// New creates a stream client.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("serverURL is required")
	}
	if config.Repository == "" {
		return nil, errors.New("repository is required (use \"*\" for all)")
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Client{
		config:    config,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		logger:    logger,
	}, nil
}

// Start connects and consumes the stream, reconnecting with backoff until
// the context is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	defer close(c.stoppedCh)

	retryOpts := []retry.Option{
		retry.Context(ctx),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.MaxDelay(c.config.MaxBackoff),
		retry.OnRetry(func(n uint, err error) {
			c.mu.Lock()
			c.retries = int(n) //nolint:gosec // Retry count will not overflow in practice
			c.mu.Unlock()

			c.logger.Warn("stream connection lost", "error", err, "attempt", n+1)
			if c.config.OnDisconnect != nil {
				c.config.OnDisconnect(err)
			}
		}),
		retry.RetryIf(func(error) bool {
			if c.config.NoReconnect {
				return false
			}
			select {
			case <-c.stopCh:
				return false
			default:
				return true
			}
		}),
	}

	if c.config.MaxRetries > 0 {
		retryOpts = append(retryOpts, retry.Attempts(uint(c.config.MaxRetries))) //nolint:gosec // User-configured value
	} else {
		retryOpts = append(retryOpts, retry.UntilSucceeded())
	}

	return retry.Do(func() error {
		select {
		case <-ctx.Done():
			return retry.Unrecoverable(ctx.Err())
		case <-c.stopCh:
			return retry.Unrecoverable(errors.New("stop requested"))
		default:
		}

		c.mu.Lock()
		attempt := c.retries
		c.mu.Unlock()
		if attempt == 0 {
			c.logger.Info("connecting to stream", "url", c.config.ServerURL)
		} else {
			c.logger.Info("reconnecting to stream", "url", c.config.ServerURL, "attempt", attempt)
		}

		return c.connect(ctx)
	}, retryOpts...)
}

// Stop gracefully stops the client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.ws != nil {
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("error closing websocket on shutdown", "error", err)
		}
	}
	c.mu.Unlock()
	<-c.stoppedCh
}

// readTimeout must exceed the server's ping interval (54s) to avoid false
// disconnects on idle streams.
const readTimeout = 90 * time.Second

// connect establishes one connection, subscribes, and consumes
// notifications until the connection fails.
func (c *Client) connect(ctx context.Context) error {
	origin := "http://localhost/"
	if strings.HasPrefix(c.config.ServerURL, "wss://") {
		origin = "https://localhost/"
	}
	wsConfig, err := websocket.NewConfig(c.config.ServerURL, origin)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ws, err := websocket.DialConfig(wsConfig)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		if err := ws.Close(); err != nil {
			c.logger.Debug("failed to close websocket cleanly", "error", err)
		}
	}()

	sub := map[string]any{"repository": c.config.Repository}
	if len(c.config.EventTypes) > 0 {
		sub["event_types"] = c.config.EventTypes
	}
	if err := websocket.JSON.Send(ws, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("subscribed", "repository", c.config.Repository, "event_types", c.config.EventTypes)
	c.mu.Lock()
	c.retries = 0
	c.mu.Unlock()
	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}

	for {
		select {
		case <-ctx.Done():
			return retry.Unrecoverable(ctx.Err())
		case <-c.stopCh:
			return retry.Unrecoverable(errors.New("stop requested"))
		default:
		}

		if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		// Decode into a generic map first: the stream interleaves
		// notifications with keep-alive pings.
		var msg map[string]any
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		if t, _ := msg["type"].(string); t == "ping" {
			c.logger.Debug("ping received")
			continue
		}

		n := decodeNotification(msg)
		c.logger.Debug("notification received", "event_type", n.Type, "repo", n.Repository)
		if c.config.OnNotification != nil {
			c.config.OnNotification(n)
		}
	}
}

func decodeNotification(msg map[string]any) Notification {
	n := Notification{}
	if s, ok := msg["type"].(string); ok {
		n.Type = s
	}
	if s, ok := msg["repository"].(string); ok {
		n.Repository = s
	}
	if s, ok := msg["delivery_id"].(string); ok {
		n.DeliveryID = s
	}
	if s, ok := msg["text"].(string); ok {
		n.Text = s
	}
	if s, ok := msg["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			n.Timestamp = ts
		}
	}
	return n
}
