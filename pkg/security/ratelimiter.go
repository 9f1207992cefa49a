// Package security provides the HTTP hardening layer: per-IP request rate
// limiting, WebSocket connection limiting, panic recovery and security
// header middleware, and GitHub source IP validation.
package security

import (
	"sync"
	"time"
)

// maxBuckets caps the number of tracked IPs to prevent memory exhaustion.
const maxBuckets = 10000

// RateLimiter implements a simple fixed-window per-IP rate limiter.
type RateLimiter struct {
	buckets   map[string]*bucket
	stopCh    chan struct{}
	cleanupWG sync.WaitGroup
	maxCount  int
	window    time.Duration
	mu        sync.Mutex
}

type bucket struct {
	resetTime time.Time
	count     int
}

// NewRateLimiter creates a rate limiter allowing maxCount requests per
// window for each client IP.
func NewRateLimiter(maxCount int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		maxCount: maxCount,
		window:   window,
		stopCh:   make(chan struct{}),
	}

	rl.cleanupWG.Add(1)
	go rl.cleanupRoutine()

	return rl
}

// Allow checks if a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[ip]

	// Create new bucket or reset if expired
	if !exists || now.After(b.resetTime) {
		if !exists && len(rl.buckets) >= maxBuckets {
			rl.evictOldest()
		}

		rl.buckets[ip] = &bucket{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	if b.count >= rl.maxCount {
		return false
	}

	b.count++
	return true
}

// cleanupRoutine periodically removes expired buckets to prevent memory leaks.
func (rl *RateLimiter) cleanupRoutine() {
	defer rl.cleanupWG.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, b := range rl.buckets {
		if now.After(b.resetTime) {
			delete(rl.buckets, ip)
		}
	}
}

// evictOldest removes the bucket closest to expiry (called with lock held).
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time

	for ip, b := range rl.buckets {
		if oldestIP == "" || b.resetTime.Before(oldestTime) {
			oldestIP = ip
			oldestTime = b.resetTime
		}
	}

	if oldestIP != "" {
		delete(rl.buckets, oldestIP)
	}
}

// Stop gracefully stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	rl.cleanupWG.Wait()
}
