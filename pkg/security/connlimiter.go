package security

import (
	"log/slog"
	"sync"
	"time"
)

const (
	staleTimeout = 10 * time.Minute // Inactive entries older than this are dropped
	maxIPEntries = 10000            // Cap on tracked IPs to prevent memory exhaustion
)

// connectionInfo tracks connection count and last activity time.
type connectionInfo struct {
	lastActive time.Time
	count      int
}

// ConnectionLimiter tracks WebSocket connections per IP and in total.
type ConnectionLimiter struct {
	perIP       map[string]*connectionInfo
	stopCleanup chan struct{}
	log         *slog.Logger
	total       int
	maxPerIP    int
	maxTotal    int
	mu          sync.Mutex
}

// NewConnectionLimiter creates a connection limiter with periodic cleanup
// of stale entries.
func NewConnectionLimiter(maxPerIP, maxTotal int, log *slog.Logger) *ConnectionLimiter {
	cl := &ConnectionLimiter{
		perIP:       make(map[string]*connectionInfo),
		maxPerIP:    maxPerIP,
		maxTotal:    maxTotal,
		stopCleanup: make(chan struct{}),
		log:         log,
	}

	go cl.cleanupLoop()

	return cl
}

// Add attempts to register a connection for the given IP.
func (cl *ConnectionLimiter) Add(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	info := cl.perIP[ip]
	if info == nil {
		if len(cl.perIP) >= maxIPEntries {
			cl.evictOldestInactive()
			if len(cl.perIP) >= maxIPEntries {
				return false
			}
		}
		info = &connectionInfo{}
		cl.perIP[ip] = info
	}

	if cl.total >= cl.maxTotal || info.count >= cl.maxPerIP {
		return false
	}

	info.count++
	info.lastActive = time.Now()
	cl.total++
	return true
}

// Remove unregisters a connection for the given IP.
func (cl *ConnectionLimiter) Remove(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if info := cl.perIP[ip]; info != nil && info.count > 0 {
		info.count--
		info.lastActive = time.Now()
		cl.total--

		if info.count == 0 {
			delete(cl.perIP, ip)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (cl *ConnectionLimiter) Stop() {
	select {
	case <-cl.stopCleanup:
	default:
		close(cl.stopCleanup)
	}
}

func (cl *ConnectionLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cl.cleanup()
		case <-cl.stopCleanup:
			return
		}
	}
}

func (cl *ConnectionLimiter) cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for ip, info := range cl.perIP {
		if info.count == 0 && now.Sub(info.lastActive) > staleTimeout {
			delete(cl.perIP, ip)
			cleaned++
		}
	}

	if cleaned > 0 {
		cl.log.Debug("connection limiter cleaned up stale IP entries", "count", cleaned)
	}
}

// evictOldestInactive removes the oldest inactive entry (lock must be held).
func (cl *ConnectionLimiter) evictOldestInactive() {
	var oldestIP string
	var oldestTime time.Time

	for ip, info := range cl.perIP {
		if info.count == 0 && (oldestIP == "" || info.lastActive.Before(oldestTime)) {
			oldestIP = ip
			oldestTime = info.lastActive
		}
	}

	if oldestIP != "" {
		delete(cl.perIP, oldestIP)
	}
}
