package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit events in any window. Admitted timestamps are
// kept in a ring sized to the limit, so the oldest slot decides whether a new event fits.
type SlidingWindowLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	ring []time.Time
	next int
	used int
}

// NewSlidingWindowLimiter constructs a limiter. A non positive window or limit disables it.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if window <= 0 || limit <= 0 {
		return &SlidingWindowLimiter{}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, now: timeSource, ring: make([]time.Time, limit)}
}

// Allow reports whether the caller may proceed and records the event when it may.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || len(l.ring) == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	//1.- With a full ring the slot about to be overwritten holds the oldest admission.
	if l.used == len(l.ring) && now.Sub(l.ring[l.next]) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	if l.used < len(l.ring) {
		l.used++
	}
	return true
}
