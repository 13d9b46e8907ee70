// Package input throttles paddle updates per player and match before they reach the
// simulation host.
package input

import (
	"sync"
	"time"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c clockFunc) Now() time.Time { return c() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the throughput gate. A zero MinInterval admits every update.
type Config struct {
	MinInterval time.Duration
}

// Key identifies one paddle stream.
type Key struct {
	UserID  string
	MatchID string
}

// DropCounters aggregates the updates rejected for one player.
type DropCounters struct {
	RateLimited uint64 `json:"rate_limited"`
}

// Gate admits at most one paddle update per MinInterval for every Key.
type Gate struct {
	cfg   Config
	clock Clock

	mu       sync.Mutex
	accepted map[Key]time.Time
	drops    map[string]DropCounters
	total    uint64
}

// NewGate constructs a gate. A nil clock falls back to the wall clock.
func NewGate(cfg Config, clock Clock) *Gate {
	if clock == nil {
		clock = systemClock{}
	}
	return &Gate{
		cfg:      cfg,
		clock:    clock,
		accepted: make(map[Key]time.Time),
		drops:    make(map[string]DropCounters),
	}
}

// NewGateWithFunc adapts a time function into the gate clock.
func NewGateWithFunc(cfg Config, now func() time.Time) *Gate {
	if now == nil {
		return NewGate(cfg, nil)
	}
	return NewGate(cfg, clockFunc(now))
}

// Allow reports whether the update for key may be forwarded and records it when it may.
func (g *Gate) Allow(key Key) bool {
	if g == nil || g.cfg.MinInterval <= 0 {
		return true
	}
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	last, seen := g.accepted[key]
	if seen && now.Sub(last) < g.cfg.MinInterval {
		//1.- Count the drop against the player so noisy clients show up in diagnostics.
		counters := g.drops[key.UserID]
		counters.RateLimited++
		g.drops[key.UserID] = counters
		g.total++
		return false
	}
	g.accepted[key] = now
	return true
}

// ForgetMatch clears the state of one paddle stream.
func (g *Gate) ForgetMatch(key Key) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.accepted, key)
	g.mu.Unlock()
}

// Forget clears every stream and counter of a disconnected player.
func (g *Gate) Forget(userID string) {
	if g == nil || userID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.accepted {
		if key.UserID == userID {
			delete(g.accepted, key)
		}
	}
	delete(g.drops, userID)
}

// Metrics returns a copy of the per player drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for userID, counters := range g.drops {
		clone[userID] = counters
	}
	return clone
}

// Dropped returns the number of updates rejected since start, including forgotten players.
func (g *Gate) Dropped() uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
