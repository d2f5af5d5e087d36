// Package ratelimit implements per-principal fixed-window request limiting
// and the usage-derived cost ceilings.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the request window.
const (
	DefaultWindow  = 60 * time.Second
	DefaultCeiling = 120
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed        bool
	Limit          int
	Remaining      int
	ResetInSeconds int
}

// window is a fixed request-counting window for one principal.
type window struct {
	count int
	reset time.Time
}

// Limiter tracks fixed windows per principal id. Anonymous principals share
// the literal id "anonymous" and therefore a single window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	ceiling int
	now     func() time.Time
}

// New creates a Limiter. Non-positive arguments fall back to the defaults.
func New(length time.Duration, ceiling int) *Limiter {
	if length <= 0 {
		length = DefaultWindow
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Limiter{
		windows: make(map[string]*window),
		length:  length,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// Allow counts one request against the principal's current window. The first
// request strictly after the reset instant starts a new window with count 1.
func (l *Limiter) Allow(principalID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[principalID]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(l.length)}
		l.windows[principalID] = w
	}
	w.count++

	resetIn := int((w.reset.Sub(now) + time.Second - 1) / time.Second)
	if w.count > l.ceiling {
		return Result{Limit: l.ceiling, ResetInSeconds: resetIn}
	}
	return Result{Allowed: true, Limit: l.ceiling, Remaining: l.ceiling - w.count, ResetInSeconds: resetIn}
}

// Sweep removes windows whose reset is more than one window length in the
// past. Returns the number evicted; idempotent under overlapping runs.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.length)
	evicted := 0
	for id, w := range l.windows {
		if w.reset.Before(cutoff) {
			delete(l.windows, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
