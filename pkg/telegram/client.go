// Package telegram provides a minimal Telegram Bot API client for sending
// chat notifications, with local rate limiting and retry on transient
// failures.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	clientTimeout  = 10 * time.Second

	// minSendInterval spaces consecutive sends to stay inside the Bot
	// API's 30 messages/second ceiling. The throttle is local to one
	// client instance; it does not coordinate across processes.
	minSendInterval = time.Second / 30

	maxResponseSize = 1 << 20 // 1MB
)

// ParseModeHTML requests Telegram's HTML message rendering.
const ParseModeHTML = "HTML"

// Bot is the identity of the authenticated bot.
type Bot struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	ID        int64  `json:"id"`
}

// Client calls the Telegram Bot API. All methods are safe for concurrent
// use; concurrent sends are serialized by the rate limiter.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
	baseURL    string
	token      string
	lastSend   time.Time
	mu         sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// New creates a client for the given bot token.
func New(token string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    defaultBaseURL,
		token:      token,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiResponse is the Bot API's envelope.
type apiResponse struct {
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	OK          bool            `json:"ok"`
}

// Send delivers text to the given chat. The call blocks until the minimum
// inter-send spacing since the previous send has elapsed. Transient
// failures (network errors, 5xx, 429) are retried with jittered backoff;
// API rejections surface the upstream description in the returned error.
func (c *Client) Send(ctx context.Context, chatID int64, text, parseMode string) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}

	_, err := c.call(ctx, "sendMessage", body)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Identity returns the authenticated bot's identity via getMe.
func (c *Client) Identity(ctx context.Context) (*Bot, error) {
	result, err := c.call(ctx, "getMe", nil)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}

	var bot Bot
	if err := json.Unmarshal(result, &bot); err != nil {
		return nil, fmt.Errorf("parse getMe response: %w", err)
	}
	return &bot, nil
}

// TestConnection probes the API with a lightweight identity request and
// reports success as a boolean, for health and readiness checks.
func (c *Client) TestConnection(ctx context.Context) bool {
	bot, err := c.Identity(ctx)
	if err != nil {
		c.log.Warn("telegram connection test failed", "error", err)
		return false
	}
	c.log.Debug("telegram connection test ok", "bot", bot.Username)
	return true
}

// throttle blocks until the minimum spacing since the last send has
// elapsed, reserving the next slot before sleeping so concurrent callers
// queue up behind each other.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if next := c.lastSend.Add(minSendInterval); next.After(now) {
		wait = next.Sub(now)
	}
	c.lastSend = now.Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call performs one Bot API method call with retries on transient failures.
func (c *Client) call(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var result json.RawMessage

	err := retry.Do(
		func() error {
			var reader io.Reader = http.NoBody
			if payload != nil {
				reader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.log.Warn("telegram request failed (will retry)", "method", method, "error", err)
				return err // Retry on network errors
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					c.log.Debug("failed to close response body", "error", err)
				}
			}()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var api apiResponse
			if err := json.Unmarshal(raw, &api); err != nil {
				// 5xx bodies are not always JSON
				if resp.StatusCode >= http.StatusInternalServerError {
					c.log.Warn("telegram server error (will retry)",
						"method", method, "status", resp.StatusCode)
					return fmt.Errorf("server error: %d", resp.StatusCode)
				}
				return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
			}

			switch {
			case api.OK:
				result = api.Result
				return nil
			case resp.StatusCode == http.StatusTooManyRequests:
				c.log.Warn("telegram rate limited (will retry)", "method", method)
				return errRateLimited
			case resp.StatusCode >= http.StatusInternalServerError:
				c.log.Warn("telegram server error (will retry)",
					"method", method, "status", resp.StatusCode)
				return fmt.Errorf("server error: %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(apiError(api, resp.StatusCode))
			}
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.MaxDelay(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

var errRateLimited = errors.New("rate limited by API")

// apiError builds the delivery fault for an API-level rejection, carrying
// the upstream description when the API provided one.
func apiError(api apiResponse, status int) error {
	if api.Description != "" {
		return fmt.Errorf("api rejected request: %s", api.Description)
	}
	return fmt.Errorf("api rejected request: status %d", status)
}
