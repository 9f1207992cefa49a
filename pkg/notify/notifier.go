// Package notify composes the event pipeline: parse, deduplicate, format,
// deliver. One Notifier owns the dedup cache's lifecycle and tracks
// detached deliveries so shutdown can drain them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gitping-dev/gitping/pkg/dedup"
	"github.com/gitping-dev/gitping/pkg/format"
	"github.com/gitping-dev/gitping/pkg/hub"
	"github.com/gitping-dev/gitping/pkg/telegram"
	"github.com/gitping-dev/gitping/pkg/webhook"
)

// deliveryTimeout bounds a detached pipeline run, including the rate-limit
// wait and the outbound API call.
const deliveryTimeout = 30 * time.Second

// Sender delivers a formatted notification to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text, parseMode string) error
}

// Broadcaster mirrors processed events onto the live stream. Broadcast
// must not block.
type Broadcaster interface {
	Broadcast(n hub.Notification)
}

// Notifier runs the notification pipeline for inbound webhook events.
type Notifier struct {
	cache       *dedup.Cache
	sender      Sender
	broadcaster Broadcaster
	log         *slog.Logger
	chatID      int64
	wg          sync.WaitGroup
}

// New creates a Notifier. broadcaster may be nil when no stream surface is
// wired.
func New(cache *dedup.Cache, sender Sender, chatID int64, broadcaster Broadcaster, log *slog.Logger) *Notifier {
	return &Notifier{
		cache:       cache,
		sender:      sender,
		broadcaster: broadcaster,
		chatID:      chatID,
		log:         log,
	}
}

// ProcessAsync runs the pipeline for one delivery as a detached task. The
// webhook response has already been committed by the time this runs;
// failures are routed to the log only. In-flight runs are tracked so
// Close can let them finish.
func (n *Notifier) ProcessAsync(eventType, deliveryID string, payload map[string]any) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		if err := n.Process(ctx, eventType, deliveryID, payload); err != nil {
			n.log.Error("event processing failed",
				"error", err,
				"event_type", eventType,
				"delivery_id", deliveryID)
		}
	}()
}

// Process runs the pipeline for one delivery: ping short-circuit,
// repository check, parse, duplicate check, and - for pushes - format and
// delivery. Every non-duplicate recognized event is marked processed,
// push or not.
func (n *Notifier) Process(ctx context.Context, eventType, deliveryID string, payload map[string]any) error {
	if eventType == webhook.TypePing {
		n.log.Info("ping received", "delivery_id", deliveryID)
		return nil
	}

	if !webhook.HasRepository(payload) {
		n.log.Warn("skipping event without repository field",
			"event_type", eventType, "delivery_id", deliveryID)
		return nil
	}

	event, err := webhook.ParseEvent(eventType, deliveryID, payload)
	if err != nil {
		return fmt.Errorf("parse event: %w", err)
	}

	if n.cache.CheckAndMark(event) {
		n.log.Info("skipping duplicate event",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"repo", event.Repository)
		return nil
	}

	text := ""
	if event.Type == webhook.TypePush {
		text = format.Push(event)
	}

	if n.broadcaster != nil {
		n.broadcaster.Broadcast(hub.Notification{
			Timestamp:  event.ReceivedAt,
			Type:       event.Type,
			Repository: event.Repository,
			DeliveryID: event.DeliveryID,
			Text:       text,
		})
	}

	// Non-push events stop here but stay marked, so they are not
	// reprocessed if delivery for them is enabled later. Pushes with no
	// summary (branch creations and deletions) also produce no message.
	if text == "" {
		return nil
	}

	if err := n.sender.Send(ctx, n.chatID, text, telegram.ParseModeHTML); err != nil {
		return fmt.Errorf("deliver notification for %s: %w", event.Repository, err)
	}

	n.log.Info("notification delivered",
		"event_type", event.Type,
		"delivery_id", event.DeliveryID,
		"repo", event.Repository)
	return nil
}

// CacheStats exposes the dedup cache snapshot for health reporting.
func (n *Notifier) CacheStats() dedup.Stats {
	return n.cache.Stats()
}

// Drain waits for all detached pipeline runs to finish.
func (n *Notifier) Drain() {
	n.wg.Wait()
}

// Close drains in-flight deliveries and tears down the dedup cache's
// background sweep. In-flight sends are not aborted; they complete or
// fail on their own timeout.
func (n *Notifier) Close() {
	n.Drain()
	n.cache.Stop()
}
