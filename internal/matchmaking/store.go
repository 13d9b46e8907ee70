package matchmaking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pongnet/core/internal/protocol"
)

// Status is the lifecycle state of a persisted match.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusForfeit   Status = "forfeit"
)

// Mode records how a match was formed.
type Mode string

const (
	ModeOneVsOne   Mode = "1v1"
	ModeSolo       Mode = "solo"
	ModeTournament Mode = "tournament"
)

// LocalPlayer is the shared id of the second player of a local solo match.
const LocalPlayer = protocol.LocalPlayerID

// ErrDuplicateMatch is returned when a record with the same id already exists.
var ErrDuplicateMatch = errors.New("match already exists")

// Record is one persisted match.
type Record struct {
	MatchID     string
	Player1     string
	Player2     string
	Mode        Mode
	Status      Status
	WinnerID    string
	LoserID     string
	WinnerScore int
	LoserScore  int
	CreatedAt   time.Time
}

// Opponent returns the other player of the record, or false when userID is not seated.
func (r Record) Opponent(userID string) (string, bool) {
	switch userID {
	case r.Player1:
		return r.Player2, true
	case r.Player2:
		return r.Player1, true
	default:
		return "", false
	}
}

// Result finalizes an active match.
type Result struct {
	Status      Status
	WinnerID    string
	LoserID     string
	WinnerScore int
	LoserScore  int
}

// PlayerStats aggregates the finalized matches of one user.
type PlayerStats struct {
	Played       int
	Won          int
	HighestScore int
}

// Store persists matches. Finalize reports false when the match was not active, which
// callers treat as an already settled match.
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, matchID string) (Record, bool, error)
	ActiveFor(ctx context.Context, userID string) (Record, bool, error)
	Finalize(ctx context.Context, matchID string, result Result) (bool, error)
	Stats(ctx context.Context, userID string) (PlayerStats, error)
}

// Directory resolves display names. An empty name means the user is unknown.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// tracksStats reports whether a participant accrues statistics.
func tracksStats(userID string) bool {
	return userID != "" && userID != LocalPlayer && !strings.HasPrefix(userID, protocol.AIUserPrefix)
}

// indexable reports whether a participant gets an active match index entry.
func indexable(userID string) bool {
	return userID != "" && userID != LocalPlayer
}

// MemoryStore keeps matches in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]Record
	active  map[string]string
	stats   map[string]PlayerStats
	names   map[string]string
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]Record),
		active:  make(map[string]string),
		stats:   make(map[string]PlayerStats),
		names:   make(map[string]string),
	}
}

// SetName registers a display name.
func (s *MemoryStore) SetName(userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[userID] = name
}

// DisplayName implements Directory.
func (s *MemoryStore) DisplayName(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[userID], nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[record.MatchID]; exists {
		return ErrDuplicateMatch
	}
	if record.Status == "" {
		record.Status = StatusActive
	}
	s.matches[record.MatchID] = record
	for _, player := range []string{record.Player1, record.Player2} {
		if indexable(player) {
			s.active[player] = record.MatchID
		}
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, matchID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.matches[matchID]
	return record, ok, nil
}

// ActiveFor implements Store.
func (s *MemoryStore) ActiveFor(_ context.Context, userID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matchID, ok := s.active[userID]
	if !ok {
		return Record{}, false, nil
	}
	record, ok := s.matches[matchID]
	if !ok || record.Status != StatusActive {
		return Record{}, false, nil
	}
	return record, true, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, matchID string, result Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.matches[matchID]
	if !ok || record.Status != StatusActive {
		return false, nil
	}
	record.Status = result.Status
	record.WinnerID, record.LoserID = result.WinnerID, result.LoserID
	record.WinnerScore, record.LoserScore = result.WinnerScore, result.LoserScore
	s.matches[matchID] = record

	for _, player := range []string{record.Player1, record.Player2} {
		if s.active[player] == matchID {
			delete(s.active, player)
		}
	}
	if tracksStats(result.WinnerID) {
		stats := s.stats[result.WinnerID]
		stats.Played++
		stats.Won++
		if result.WinnerScore > stats.HighestScore {
			stats.HighestScore = result.WinnerScore
		}
		s.stats[result.WinnerID] = stats
	}
	if tracksStats(result.LoserID) {
		stats := s.stats[result.LoserID]
		stats.Played++
		s.stats[result.LoserID] = stats
	}
	return true, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context, userID string) (PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats[userID], nil
}
