package api

import (
	"sync"
	"time"
)

// attemptLimiter is an in-memory sliding window limiter keyed by client address
type attemptLimiter struct {
	mu        sync.Mutex
	windows   map[string]*slidingWindowState
	limit     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type slidingWindowState struct {
	timestamps []time.Time
}

func newAttemptLimiter(limit int, window time.Duration, now func() time.Time) *attemptLimiter {
	if now == nil {
		now = time.Now
	}
	return &attemptLimiter{
		windows:   make(map[string]*slidingWindowState),
		limit:     limit,
		window:    window,
		now:       now,
		lastSweep: now(),
	}
}

// Allow records an attempt for key and reports whether it fits in the window.
// When it does not, the returned time is when the oldest attempt expires.
func (l *attemptLimiter) Allow(key string) (bool, time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	state, exists := l.windows[key]
	if !exists {
		state = &slidingWindowState{}
		l.windows[key] = state
	}

	// Remove timestamps outside the window
	cutoff := now.Add(-l.window)
	valid := state.timestamps[:0]
	for _, ts := range state.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	state.timestamps = valid

	if len(state.timestamps) >= l.limit {
		return false, state.timestamps[0].Add(l.window)
	}

	state.timestamps = append(state.timestamps, now)
	return true, time.Time{}
}

// sweep drops keys whose attempts have all left the window
func (l *attemptLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, state := range l.windows {
		n := len(state.timestamps)
		if n == 0 || !state.timestamps[n-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}

func (l *attemptLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
