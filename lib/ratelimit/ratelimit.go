// Package ratelimit bounds trackable portal requests with a sliding
// window of timestamps. The portal starts serving block pages somewhere
// around 20-25 hits per minute, so callers should configure a ceiling
// with headroom under that.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	ceiling int
	stamps  []time.Time
	now     func() time.Time
}

func New(ceiling int, window time.Duration) *Limiter {
	return &Limiter{
		window:  window,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// NewWithClock is for tests that need a deterministic clock.
func NewWithClock(ceiling int, window time.Duration, now func() time.Time) *Limiter {
	l := New(ceiling, window)
	l.now = now
	return l
}

func (l *Limiter) prune(now time.Time) {
	keep := l.stamps[:0]
	for _, t := range l.stamps {
		if now.Sub(t) < l.window {
			keep = append(keep, t)
		}
	}
	l.stamps = keep
}

// Allow reports whether a new trackable request may be issued right now.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps) < l.ceiling
}

// Record counts an issued request against the window.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	l.stamps = append(l.stamps, now)
}

// NextSlot returns how long until the oldest timestamp ages out of the
// window, i.e. when Allow will report true again. Zero when a request is
// admissible immediately. Callers schedule a retry with this instead of
// polling.
func (l *Limiter) NextSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.stamps) < l.ceiling {
		return 0
	}
	oldest := l.stamps[0]
	for _, t := range l.stamps[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	wait := l.window - now.Sub(oldest)
	if wait < 0 {
		return 0
	}
	return wait
}

// Len reports how many requests are currently inside the window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}
