package relay

import (
	"sync"
	"time"
)

type rateWindow struct {
	count int
	start time.Time
}

// RateLimiter is a per-connection fixed-window message counter.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	windows map[string]*rateWindow
}

// NewRateLimiter allows max messages per window for each connection.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		windows: make(map[string]*rateWindow),
	}
}

// Allow counts one message from id at now and reports whether it may be
// processed. The window restarts once more than the window length elapsed.
func (l *RateLimiter) Allow(id string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) > l.window {
		l.windows[id] = &rateWindow{count: 1, start: now}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Forget drops the counter of a closed connection.
func (l *RateLimiter) Forget(id string) {
	l.mu.Lock()
	delete(l.windows, id)
	l.mu.Unlock()
}

func (l *RateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
