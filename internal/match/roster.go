package match

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidUserID is returned when a subscription omits the user or the match.
	ErrInvalidUserID = errors.New("user and match ids must not be empty")
	// ErrRosterFull indicates that a match reached the configured subscriber limit.
	ErrRosterFull = errors.New("match roster is full")
)

// Snapshot captures a stable view of one match roster for observers.
type Snapshot struct {
	MatchID     string    `json:"match_id"`
	Subscribers []string  `json:"subscribers"`
	Players     []string  `json:"players,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats summarises every roster.
type Stats struct {
	Matches     int `json:"matches"`
	Subscribers int `json:"subscribers"`
}

// Option configures optional Rosters behaviour at construction time.
type Option func(*Rosters)

// WithClock overrides the default wall-clock time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Rosters) {
		//1.- Allow tests to inject a deterministic time source for reproducibility.
		if clock != nil {
			r.now = clock
		}
	}
}

// WithMaxSubscribers caps the number of users a single match may fan out to. Zero
// means unlimited.
func WithMaxSubscribers(limit int) Option {
	return func(r *Rosters) {
		if limit >= 0 {
			r.maxSubscribers = limit
		}
	}
}

type roster struct {
	subscribers map[string]time.Time
	players     []string
	createdAt   time.Time
}

// Rosters maps every live match to the users that receive its state and keeps the
// reverse index so a disconnecting user can be pruned from all of them at once.
type Rosters struct {
	mu sync.RWMutex

	matches        map[string]*roster
	byUser         map[string]map[string]struct{}
	maxSubscribers int
	now            func() time.Time
}

// NewRosters constructs an empty registry.
func NewRosters(opts ...Option) *Rosters {
	r := &Rosters{
		matches: make(map[string]*roster),
		byUser:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Subscribe adds userID to the roster of matchID. It reports whether the user was newly
// added; repeated subscriptions only refresh the timestamp.
func (r *Rosters) Subscribe(matchID, userID string) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("rosters is nil")
	}
	matchID, userID = strings.TrimSpace(matchID), strings.TrimSpace(userID)
	if matchID == "" || userID == "" {
		return false, ErrInvalidUserID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Create the roster lazily and enforce the cap only for new subscribers.
	entry := r.matches[matchID]
	if entry == nil {
		entry = &roster{subscribers: make(map[string]time.Time), createdAt: r.now()}
		r.matches[matchID] = entry
	}
	_, exists := entry.subscribers[userID]
	if !exists && r.maxSubscribers > 0 && len(entry.subscribers) >= r.maxSubscribers {
		return false, fmt.Errorf("%w: %s", ErrRosterFull, matchID)
	}
	entry.subscribers[userID] = r.now()

	//2.- Mirror the subscription in the reverse index.
	matches := r.byUser[userID]
	if matches == nil {
		matches = make(map[string]struct{})
		r.byUser[userID] = matches
	}
	matches[matchID] = struct{}{}
	return !exists, nil
}

// SetPlayers records the seated players of a match, used to address match scoped
// notifications to users that never subscribed.
func (r *Rosters) SetPlayers(matchID string, players ...string) {
	if r == nil || strings.TrimSpace(matchID) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.matches[matchID]
	if entry == nil {
		entry = &roster{subscribers: make(map[string]time.Time), createdAt: r.now()}
		r.matches[matchID] = entry
	}
	entry.players = entry.players[:0]
	for _, player := range players {
		if trimmed := strings.TrimSpace(player); trimmed != "" {
			entry.players = append(entry.players, trimmed)
		}
	}
}

// Players returns the seated players of a match in seating order.
func (r *Rosters) Players(matchID string) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.matches[matchID]
	if entry == nil || len(entry.players) == 0 {
		return nil
	}
	return append([]string(nil), entry.players...)
}

// Subscribers returns the users receiving a match's state in a deterministic order.
func (r *Rosters) Subscribers(matchID string) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.matches[matchID]
	if entry == nil {
		return nil
	}
	return sortedKeys(entry.subscribers)
}

// MatchesOf returns every match userID is subscribed to.
func (r *Rosters) MatchesOf(userID string) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byUser[userID])
}

// Unsubscribe removes one user from one match. Empty rosters are forgotten.
func (r *Rosters) Unsubscribe(matchID, userID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(matchID, userID)
}

// DropUser prunes userID from every roster and returns the matches it was subscribed to.
func (r *Rosters) DropUser(userID string) []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := sortedKeys(r.byUser[userID])
	for _, matchID := range matches {
		r.unsubscribeLocked(matchID, userID)
	}
	//1.- Unseat the user as well so rosters kept alive only by seating do not leak.
	for matchID, entry := range r.matches {
		kept := entry.players[:0]
		for _, player := range entry.players {
			if player != userID {
				kept = append(kept, player)
			}
		}
		entry.players = kept
		if len(entry.subscribers) == 0 && len(entry.players) == 0 {
			delete(r.matches, matchID)
		}
	}
	return matches
}

// DropMatch forgets a match entirely and returns the users that were subscribed.
func (r *Rosters) DropMatch(matchID string) []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.matches[matchID]
	if entry == nil {
		return nil
	}
	users := sortedKeys(entry.subscribers)
	for _, userID := range users {
		r.unsubscribeLocked(matchID, userID)
	}
	delete(r.matches, matchID)
	return users
}

// Snapshot returns a read-only view of one roster.
func (r *Rosters) Snapshot(matchID string) (Snapshot, bool) {
	if r == nil {
		return Snapshot{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.matches[matchID]
	if entry == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		MatchID:     matchID,
		Subscribers: sortedKeys(entry.subscribers),
		Players:     append([]string(nil), entry.players...),
		CreatedAt:   entry.createdAt,
	}, true
}

// Stats counts matches and subscriptions.
func (r *Rosters) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Matches: len(r.matches)}
	for _, entry := range r.matches {
		stats.Subscribers += len(entry.subscribers)
	}
	return stats
}

func (r *Rosters) unsubscribeLocked(matchID, userID string) {
	if entry := r.matches[matchID]; entry != nil {
		delete(entry.subscribers, userID)
		if len(entry.subscribers) == 0 && len(entry.players) == 0 {
			delete(r.matches, matchID)
		}
	}
	if matches := r.byUser[userID]; matches != nil {
		delete(matches, matchID)
		if len(matches) == 0 {
			delete(r.byUser, userID)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	//1.- Sort identifiers to guarantee deterministic fan-out order for consumers and tests.
	sort.Strings(keys)
	return keys
}
