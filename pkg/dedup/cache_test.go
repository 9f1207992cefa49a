package dedup

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gitping-dev/gitping/pkg/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, maxSize int, window time.Duration) *Cache {
	t.Helper()
	c := New(maxSize, window, 0, testLogger()) // no sweep goroutine
	t.Cleanup(c.Stop)
	return c
}

func pushEvent(deliveryID, repo, sha string, received time.Time) *webhook.Event {
	e := &webhook.Event{
		Type:       webhook.TypePush,
		DeliveryID: deliveryID,
		Repository: repo,
		ReceivedAt: received,
	}
	if sha != "" {
		e.Details = &webhook.PushDetails{HeadCommit: &webhook.Commit{SHA: sha}}
	}
	return e
}

func TestKey(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		event *webhook.Event
		want  string
	}{
		{
			name: "non-push event",
			event: &webhook.Event{
				Type:       "issues",
				DeliveryID: "d1",
				Repository: "acme/widgets",
			},
			want: "issues:d1:acme/widgets",
		},
		{
			name:  "push with head commit",
			event: pushEvent("d2", "acme/widgets", "abc123", now),
			want:  "push:d2:acme/widgets:abc123",
		},
		{
			name:  "push without head commit",
			event: pushEvent("d3", "acme/widgets", "", now),
			want:  "push:d3:acme/widgets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.event); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckAndMark(t *testing.T) {
	c := newTestCache(t, 100, time.Hour)

	event := pushEvent("d1", "acme/widgets", "abc123", time.Now())

	if c.IsDuplicate(event) {
		t.Error("IsDuplicate() = true before first mark")
	}
	if c.CheckAndMark(event) {
		t.Error("CheckAndMark() = true on first sight")
	}
	if !c.CheckAndMark(event) {
		t.Error("CheckAndMark() = false on replay")
	}
	if !c.IsDuplicate(event) {
		t.Error("IsDuplicate() = false after mark")
	}
}

func TestKeyDistinguishesHeadCommit(t *testing.T) {
	c := newTestCache(t, 100, time.Hour)

	now := time.Now()
	c.MarkProcessed(pushEvent("d1", "acme/widgets", "abc123", now))

	// Same delivery ID, different head commit: distinct event.
	if c.IsDuplicate(pushEvent("d1", "acme/widgets", "def456", now)) {
		t.Error("push with different head commit treated as duplicate")
	}
	// Different delivery ID, same head commit: distinct key too.
	if c.IsDuplicate(pushEvent("d2", "acme/widgets", "abc123", now)) {
		t.Error("push with different delivery ID treated as duplicate")
	}
}

func TestExpiredEntryStillDuplicateUntilSwept(t *testing.T) {
	c := newTestCache(t, 100, time.Hour)

	stale := pushEvent("d1", "acme/widgets", "abc123", time.Now().Add(-2*time.Hour))
	c.MarkProcessed(stale)

	// Past its window but not yet swept.
	if !c.IsDuplicate(stale) {
		t.Error("unswept expired entry not reported as duplicate")
	}

	c.sweep()

	if c.IsDuplicate(stale) {
		t.Error("swept entry still reported as duplicate")
	}
}

func TestSweepKeepsLiveEntries(t *testing.T) {
	c := newTestCache(t, 100, time.Hour)

	now := time.Now()
	c.MarkProcessed(pushEvent("old", "acme/widgets", "aaa", now.Add(-90*time.Minute)))
	c.MarkProcessed(pushEvent("new", "acme/widgets", "bbb", now))

	c.sweep()

	if c.IsDuplicate(pushEvent("old", "acme/widgets", "aaa", now)) {
		t.Error("expired entry survived sweep")
	}
	if !c.IsDuplicate(pushEvent("new", "acme/widgets", "bbb", now)) {
		t.Error("live entry removed by sweep")
	}
}

func TestEvictionBoundsSizeAndDropsOldest(t *testing.T) {
	const maxSize = 10
	c := newTestCache(t, maxSize, time.Hour)

	base := time.Now().Add(-time.Minute)
	for i := range maxSize + 1 {
		id := fmt.Sprintf("d%02d", i)
		c.MarkProcessed(pushEvent(id, "acme/widgets", id, base.Add(time.Duration(i)*time.Second)))
	}

	stats := c.Stats()
	if stats.Size > maxSize {
		t.Errorf("size after eviction = %d, want <= %d", stats.Size, maxSize)
	}
	// Trims to 90% of the limit.
	if want := int(float64(maxSize) * evictTargetRatio); stats.Size != want {
		t.Errorf("size after eviction = %d, want %d", stats.Size, want)
	}

	// The chronologically oldest entries go first.
	if c.IsDuplicate(pushEvent("d00", "acme/widgets", "d00", base)) {
		t.Error("oldest entry survived eviction")
	}
	last := fmt.Sprintf("d%02d", maxSize)
	if !c.IsDuplicate(pushEvent(last, "acme/widgets", last, base)) {
		t.Error("newest entry evicted")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, 50, time.Hour)

	stats := c.Stats()
	if stats.Size != 0 || stats.MaxSize != 50 {
		t.Errorf("empty stats = %+v", stats)
	}
	if !stats.Oldest.IsZero() {
		t.Errorf("empty cache Oldest = %v, want zero time", stats.Oldest)
	}

	oldest := time.Now().Add(-10 * time.Minute)
	c.MarkProcessed(pushEvent("d1", "acme/widgets", "aaa", oldest))
	c.MarkProcessed(pushEvent("d2", "acme/widgets", "bbb", time.Now()))

	stats = c.Stats()
	if stats.Size != 2 {
		t.Errorf("Size = %d, want 2", stats.Size)
	}
	if !stats.Oldest.Equal(oldest) {
		t.Errorf("Oldest = %v, want %v", stats.Oldest, oldest)
	}
}

func TestStopClearsEntries(t *testing.T) {
	c := New(100, time.Hour, time.Minute, testLogger())
	event := pushEvent("d1", "acme/widgets", "abc123", time.Now())
	c.MarkProcessed(event)

	c.Stop()
	c.Stop() // idempotent

	if c.Stats().Size != 0 {
		t.Error("entries survived Stop()")
	}
}

func TestDefaultsApplied(t *testing.T) {
	c := New(0, 0, 0, testLogger())
	defer c.Stop()

	if c.maxSize != DefaultMaxSize {
		t.Errorf("maxSize = %d, want %d", c.maxSize, DefaultMaxSize)
	}
	if c.window != DefaultWindow {
		t.Errorf("window = %v, want %v", c.window, DefaultWindow)
	}
}
