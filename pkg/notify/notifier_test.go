package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gitping-dev/gitping/pkg/dedup"
	"github.com/gitping-dev/gitping/pkg/hub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	chatID int64
	mode   string
	err    error
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text, parseMode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	s.chatID = chatID
	s.mode = parseMode
	return nil
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

type fakeBroadcaster struct {
	mu            sync.Mutex
	notifications []hub.Notification
}

func (b *fakeBroadcaster) Broadcast(n hub.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifications)
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeSender, *fakeBroadcaster) {
	t.Helper()
	cache := dedup.New(100, time.Hour, 0, testLogger())
	sender := &fakeSender{}
	broadcaster := &fakeBroadcaster{}
	n := New(cache, sender, 42, broadcaster, testLogger())
	t.Cleanup(n.Close)
	return n, sender, broadcaster
}

func pushPayload(sha string) map[string]any {
	return map[string]any{
		"ref": "refs/heads/main",
		"repository": map[string]any{
			"full_name": "acme/widgets",
			"html_url":  "https://github.com/acme/widgets",
		},
		"sender": map[string]any{
			"login":    "octocat",
			"html_url": "https://github.com/octocat",
		},
		"after":       sha,
		"compare":     "https://github.com/acme/widgets/compare/aaa..." + sha,
		"head_commit": map[string]any{"id": sha, "message": "fix the thing"},
		"commits": []any{
			map[string]any{"id": sha, "message": "fix the thing", "modified": []any{"a.go"}},
		},
	}
}

func TestProcessDeliversPush(t *testing.T) {
	n, sender, broadcaster := newTestNotifier(t)

	if err := n.Process(context.Background(), "push", "d1", pushPayload("abc123")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sender.chatID != 42 {
		t.Errorf("chatID = %d, want 42", sender.chatID)
	}
	if sender.mode != "HTML" {
		t.Errorf("parse mode = %q, want HTML", sender.mode)
	}
	if broadcaster.count() != 1 {
		t.Errorf("broadcasts = %d, want 1", broadcaster.count())
	}
}

func TestProcessSkipsDuplicate(t *testing.T) {
	n, sender, broadcaster := newTestNotifier(t)

	payload := pushPayload("abc123")
	if err := n.Process(context.Background(), "push", "d1", payload); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	// Redelivery of the same logical event, fresh delivery ID or not.
	if err := n.Process(context.Background(), "push", "d1", payload); err != nil {
		t.Fatalf("replay Process() error = %v", err)
	}

	if got := len(sender.sent()); got != 1 {
		t.Errorf("sends after replay = %d, want 1", got)
	}
	if broadcaster.count() != 1 {
		t.Errorf("broadcasts after replay = %d, want 1", broadcaster.count())
	}
}

func TestProcessPingShortCircuits(t *testing.T) {
	n, sender, broadcaster := newTestNotifier(t)

	if err := n.Process(context.Background(), "ping", "d1", map[string]any{"zen": "Design for failure."}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sender.sent()) != 0 || broadcaster.count() != 0 {
		t.Error("ping produced a send or broadcast")
	}
	if n.CacheStats().Size != 0 {
		t.Error("ping was recorded in the dedup cache")
	}
}

func TestProcessSkipsPayloadWithoutRepository(t *testing.T) {
	n, sender, _ := newTestNotifier(t)

	if err := n.Process(context.Background(), "push", "d1", map[string]any{"ref": "refs/heads/main"}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Error("repository-less payload produced a send")
	}
}

func TestProcessParseFailure(t *testing.T) {
	n, sender, _ := newTestNotifier(t)

	payload := pushPayload("abc123")
	delete(payload["repository"].(map[string]any), "html_url")

	if err := n.Process(context.Background(), "push", "d1", payload); err == nil {
		t.Error("Process() = nil for unparseable payload")
	}
	if len(sender.sent()) != 0 {
		t.Error("unparseable payload produced a send")
	}
}

func TestProcessMarksNonPushWithoutSending(t *testing.T) {
	n, sender, broadcaster := newTestNotifier(t)

	payload := pushPayload("abc123")
	delete(payload, "ref")
	payload["action"] = "opened"
	payload["issue"] = map[string]any{"title": "bug", "number": float64(1)}

	if err := n.Process(context.Background(), "issues", "d1", payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Error("non-push event produced a send")
	}
	// Still broadcast to the live stream and recorded as processed.
	if broadcaster.count() != 1 {
		t.Errorf("broadcasts = %d, want 1", broadcaster.count())
	}
	if n.CacheStats().Size != 1 {
		t.Errorf("cache size = %d, want 1", n.CacheStats().Size)
	}
}

func TestProcessBranchCreationNotSent(t *testing.T) {
	n, sender, _ := newTestNotifier(t)

	payload := pushPayload("abc123")
	payload["created"] = true
	payload["before"] = "0000000000000000000000000000000000000000"

	if err := n.Process(context.Background(), "push", "d1", payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Error("branch creation produced a send")
	}
}

func TestProcessSendFailureSurfaced(t *testing.T) {
	n, sender, _ := newTestNotifier(t)
	sender.err = errors.New("api rejected request: chat not found")

	err := n.Process(context.Background(), "push", "d1", pushPayload("abc123"))
	if err == nil {
		t.Fatal("Process() = nil when delivery failed")
	}
	// The event stays marked: delivery failure does not reopen the
	// duplicate window.
	if n.CacheStats().Size != 1 {
		t.Errorf("cache size = %d, want 1", n.CacheStats().Size)
	}
}

func TestProcessAsyncDecoupledFromCaller(t *testing.T) {
	n, sender, _ := newTestNotifier(t)

	n.ProcessAsync("push", "d1", pushPayload("abc123"))
	n.ProcessAsync("push", "d2", pushPayload("def456"))
	n.Drain()

	if got := len(sender.sent()); got != 2 {
		t.Errorf("sends after drain = %d, want 2", got)
	}
}

func TestProcessAsyncLogsFailuresOnly(t *testing.T) {
	n, sender, _ := newTestNotifier(t)
	sender.err = errors.New("network down")

	// Must not panic or surface anywhere; the webhook response is long gone.
	n.ProcessAsync("push", "d1", pushPayload("abc123"))
	n.Drain()

	if len(sender.sent()) != 0 {
		t.Error("failed delivery recorded a send")
	}
}

func TestNilBroadcaster(t *testing.T) {
	cache := dedup.New(100, time.Hour, 0, testLogger())
	sender := &fakeSender{}
	n := New(cache, sender, 42, nil, testLogger())
	t.Cleanup(n.Close)

	if err := n.Process(context.Background(), "push", "d1", pushPayload("abc123")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sender.sent()) != 1 {
		t.Error("delivery skipped without a broadcaster")
	}
}
