// Package dedup decides whether a webhook event has already been processed.
//
// The cache is memory-resident and bounded: entries expire after a
// configurable window (removed by a periodic background sweep) and the
// oldest entries are evicted when the cache outgrows its size limit.
// Nothing survives a process restart; redeliveries after a restart are
// treated as new events.
package dedup

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gitping-dev/gitping/pkg/webhook"
)

const (
	// DefaultMaxSize bounds the number of remembered deliveries.
	DefaultMaxSize = 10000
	// DefaultWindow is how long an entry is considered live.
	DefaultWindow = 24 * time.Hour
	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = time.Hour

	// evictTargetRatio is the fill ratio the cache trims to on overflow,
	// so a single insert past the limit does not evict on every
	// subsequent insert.
	evictTargetRatio = 0.9
)

// Entry records one processed delivery.
type Entry struct {
	Timestamp  time.Time
	EventID    string
	EventType  string
	Repository string
}

// Stats is a read-only snapshot of the cache.
type Stats struct {
	Oldest  time.Time `json:"oldest_entry,omitzero"`
	Size    int       `json:"size"`
	MaxSize int       `json:"max_size"`
}

// Cache is a bounded, time-expiring record of processed deliveries.
// All methods are safe for concurrent use.
type Cache struct {
	entries  map[string]Entry
	stopCh   chan struct{}
	log      *slog.Logger
	maxSize  int
	window   time.Duration
	sweepWG  sync.WaitGroup
	stopOnce sync.Once
	mu       sync.Mutex
}

// New creates a cache. A sweepInterval <= 0 disables the background sweep
// goroutine, which test configurations rely on.
func New(maxSize int, window, sweepInterval time.Duration, log *slog.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if window <= 0 {
		window = DefaultWindow
	}

	c := &Cache{
		entries: make(map[string]Entry),
		maxSize: maxSize,
		window:  window,
		stopCh:  make(chan struct{}),
		log:     log,
	}

	if sweepInterval > 0 {
		c.sweepWG.Add(1)
		go c.sweepRoutine(sweepInterval)
	}

	return c
}

// Key derives the identity string used for duplicate detection. It is the
// event type, delivery ID, and repository, extended with the push head
// commit SHA when present: a redelivered push carries a fresh delivery ID,
// but its head commit still identifies the logical change.
func Key(event *webhook.Event) string {
	parts := []string{event.Type, event.DeliveryID, event.Repository}
	if push, ok := event.Details.(*webhook.PushDetails); ok && push.HeadCommit != nil && push.HeadCommit.SHA != "" {
		parts = append(parts, push.HeadCommit.SHA)
	}
	return strings.Join(parts, ":")
}

// IsDuplicate reports whether the event's key is already recorded. Age is
// not consulted: an entry past its window but not yet swept still counts
// as a duplicate. That coupling between sweep timing and duplicate
// detection is intentional; see CheckAndMark.
func (c *Cache) IsDuplicate(event *webhook.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[Key(event)]
	return ok
}

// MarkProcessed records the event, evicting the oldest entries if the
// cache then exceeds its size limit.
func (c *Cache) MarkProcessed(event *webhook.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mark(event)
}

// CheckAndMark atomically checks for a duplicate and, when the event is
// new, records it. It returns true when the event was already recorded.
// This is the single entry point the notification pipeline uses; holding
// the lock across check and mark prevents two concurrent deliveries of
// the same event from both passing the duplicate check.
func (c *Cache) CheckAndMark(event *webhook.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[Key(event)]; ok {
		return true
	}
	c.mark(event)
	return false
}

// mark inserts the entry and evicts on overflow (lock must be held).
func (c *Cache) mark(event *webhook.Event) {
	c.entries[Key(event)] = Entry{
		EventID:    event.DeliveryID,
		EventType:  event.Type,
		Repository: event.Repository,
		Timestamp:  event.ReceivedAt,
	}

	if len(c.entries) > c.maxSize {
		c.evict()
	}
}

// evict removes the chronologically oldest entries until the cache is at
// 90% of its limit, always removing at least one (lock must be held).
func (c *Cache) evict() {
	type keyed struct {
		ts  time.Time
		key string
	}

	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{ts: e.Timestamp, key: k})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	target := int(float64(c.maxSize) * evictTargetRatio)
	remove := len(all) - target
	if remove < 1 {
		remove = 1
	}
	for _, k := range all[:remove] {
		delete(c.entries, k.key)
	}

	c.log.Debug("dedup cache evicted oldest entries",
		"removed", remove, "size", len(c.entries), "max_size", c.maxSize)
}

// Stats returns a snapshot of the cache. Oldest is the zero time when the
// cache is empty.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Size: len(c.entries), MaxSize: c.maxSize}
	for _, e := range c.entries {
		if stats.Oldest.IsZero() || e.Timestamp.Before(stats.Oldest) {
			stats.Oldest = e.Timestamp
		}
	}
	return stats
}

// Stop cancels the background sweep and clears all entries. Required for
// clean shutdown: the sweep goroutine otherwise outlives the cache.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.sweepWG.Wait()

	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

func (c *Cache) sweepRoutine(interval time.Duration) {
	defer c.sweepWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes every entry older than the expiry window.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.window)
	removed := 0
	for k, e := range c.entries {
		if e.Timestamp.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}

	if removed > 0 {
		c.log.Debug("dedup cache swept expired entries",
			"removed", removed, "size", len(c.entries))
	}
}
