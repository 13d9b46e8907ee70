package httpapi

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	now = now.Add(20 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected second call to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected third call to be denied")
	}

	now = now.Add(41 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected the first slot to expire after a full window")
	}
	if limiter.Allow() {
		t.Fatal("expected the second slot to still be inside the window")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	limiter := NewSlidingWindowLimiter(0, 0, nil)
	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatal("limiter with zero configuration should allow")
		}
	}
	var missing *SlidingWindowLimiter
	if !missing.Allow() {
		t.Fatal("nil limiter should allow")
	}
}
