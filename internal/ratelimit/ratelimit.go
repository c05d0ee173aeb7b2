// Package ratelimit provides fixed-window rate limiting for the gateway.
// Counters are in-memory only and reset on process restart.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result represents the outcome of an admission check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the current window ends.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (zero when allowed).
	RetryAfter time.Duration
}

// FixedWindowLimiter divides time into fixed windows and counts requests
// per key within each window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	logger *zap.Logger

	counters sync.Map
	stopCh   chan struct{}
	stopOnce sync.Once
}

// windowCounter is the per-key counter for the current window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a fixed window limiter.
func NewFixedWindowLimiter(limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Limit returns the per-window request budget.
func (l *FixedWindowLimiter) Limit() int {
	return l.limit
}

// Window returns the window duration.
func (l *FixedWindowLimiter) Window() time.Duration {
	return l.window
}

// windowStart returns the start time of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// Allow checks whether a single request for key is admitted and, if so,
// consumes one unit of the key's budget.
func (l *FixedWindowLimiter) Allow(key string) *Result {
	now := time.Now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: windowStart})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+1 <= l.limit
	if allowed {
		wc.count++
	}

	remaining := l.limit - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// Reset clears the counter for a key.
func (l *FixedWindowLimiter) Reset(key string) {
	l.counters.Delete(key)
}

// Cleanup removes counters from windows that have elapsed.
func (l *FixedWindowLimiter) Cleanup() {
	windowStart := l.windowStart(time.Now())

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(windowStart) {
			l.counters.Delete(key)
		}
		wc.mu.Unlock()
		return true
	})
}

// StartCleanup starts a goroutine that periodically removes stale
// counters until Stop is called.
func (l *FixedWindowLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop stops the cleanup goroutine.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
