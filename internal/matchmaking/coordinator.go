package matchmaking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

var (
	// ErrInvalidUser is returned when a request carries no user id.
	ErrInvalidUser = errors.New("user id must not be empty")
	// ErrNoActiveMatch is returned when a user is not seated in an active match.
	ErrNoActiveMatch = errors.New("no active match found")
	// ErrUnknownMatch is returned when a match id has no record.
	ErrUnknownMatch = errors.New("match not found")
)

const (
	sideLeft  = "left"
	sideRight = "right"
	aiName    = "AI"
)

// Names carries the display names of both players of a match.
type Names struct {
	MatchID   string
	Player1   string
	Player2   string
	Player1ID string
	Player2ID string
}

// QueueStats summarises the waiting room.
type QueueStats struct {
	Queued             int
	PendingTournaments int
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithQueueTTL drops queued players that waited longer than ttl. Zero disables expiry.
func WithQueueTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the wall clock used for queue bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides match id minting.
func WithIDGenerator(next func() string) Option {
	return func(c *Coordinator) {
		if next != nil {
			c.newID = next
		}
	}
}

// WithDirectory overrides display name resolution.
func WithDirectory(directory Directory) Option {
	return func(c *Coordinator) { c.directory = directory }
}

// WithLogger overrides the coordinator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.log = logger
		}
	}
}

type queued struct {
	userID   string
	joinedAt time.Time
}

type tournamentPair struct {
	matchID   string
	users     [2]string
	joined    []string
	announced bool
}

// Coordinator pairs players, mints match ids and settles finished matches.
type Coordinator struct {
	mu sync.Mutex

	store       Store
	directory   Directory
	queue       []queued
	tournaments map[string]*tournamentPair
	ttl         time.Duration
	now         func() time.Time
	newID       func() string
	log         *logging.Logger
}

// NewCoordinator constructs a coordinator over store. When store also implements
// Directory it resolves display names unless WithDirectory says otherwise.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Coordinator{
		store:       store,
		tournaments: make(map[string]*tournamentPair),
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logging.L(),
	}
	if directory, ok := store.(Directory); ok {
		c.directory = directory
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// JoinQueue appends userID to the FIFO queue. Once two players wait the first two are
// paired, the first taking the left side, and the announcement is returned.
func (c *Coordinator) JoinQueue(ctx context.Context, userID string) (*protocol.MatchEvent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	//1.- Ignore duplicate joins so a player never ends up facing themselves.
	for _, entry := range c.queue {
		if entry.userID == userID {
			return nil, nil
		}
	}
	c.queue = append(c.queue, queued{userID: userID, joinedAt: c.now()})
	if len(c.queue) < 2 {
		return nil, nil
	}

	//2.- Pair the two oldest entries and persist the match before announcing it.
	left, right := c.queue[0].userID, c.queue[1].userID
	record := Record{MatchID: c.newID(), Player1: left, Player2: right, Mode: ModeOneVsOne, Status: StatusActive, CreatedAt: c.now()}
	if err := c.store.Create(ctx, record); err != nil {
		return nil, eris.Wrapf(err, "pair %s and %s", left, right)
	}
	c.queue = append(c.queue[:0], c.queue[2:]...)
	c.log.Info("match created", logging.String("match_id", record.MatchID), logging.String("left", left), logging.String("right", right))
	event := announcement(protocol.EventMatchFound, record)
	return &event, nil
}

// CreateSoloMatch creates a match against the autonomous controller when mode is soloIA,
// otherwise against the local second player.
func (c *Coordinator) CreateSoloMatch(ctx context.Context, userID, mode string) (protocol.MatchEvent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return protocol.MatchEvent{}, ErrInvalidUser
	}
	matchID := c.newID()
	opponent := LocalPlayer
	if mode == protocol.SoloModeAI {
		opponent = protocol.AIUserID(matchID)
	}
	record := Record{MatchID: matchID, Player1: userID, Player2: opponent, Mode: ModeSolo, Status: StatusActive, CreatedAt: c.now()}
	if err := c.store.Create(ctx, record); err != nil {
		return protocol.MatchEvent{}, eris.Wrapf(err, "create solo match for %s", userID)
	}
	c.log.Info("solo match created", logging.String("match_id", matchID), logging.String("user_id", userID), logging.String("opponent_id", opponent))
	return announcement(protocol.EventSoloMatchReady, record), nil
}

// JoinTournament records that userID is ready to play opponentID. The pair is keyed by the
// sorted ids and announced once both players joined.
func (c *Coordinator) JoinTournament(ctx context.Context, userID, opponentID string) (*protocol.MatchEvent, error) {
	userID, opponentID = strings.TrimSpace(userID), strings.TrimSpace(opponentID)
	if userID == "" || opponentID == "" || userID == opponentID {
		return nil, ErrInvalidUser
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey(userID, opponentID)
	pair := c.tournaments[key]
	if pair == nil {
		pair = &tournamentPair{matchID: c.newID(), users: [2]string{userID, opponentID}}
		c.tournaments[key] = pair
	}
	if pair.announced {
		return nil, nil
	}
	for _, joined := range pair.joined {
		if joined == userID {
			return nil, nil
		}
	}
	pair.joined = append(pair.joined, userID)
	if len(pair.joined) < 2 {
		return nil, nil
	}

	record := Record{MatchID: pair.matchID, Player1: pair.joined[0], Player2: pair.joined[1], Mode: ModeTournament, Status: StatusActive, CreatedAt: c.now()}
	if err := c.store.Create(ctx, record); err != nil {
		return nil, eris.Wrapf(err, "create tournament match %s", pair.matchID)
	}
	pair.announced = true
	c.log.Info("tournament match created", logging.String("match_id", record.MatchID))
	event := announcement(protocol.EventTournamentMatchReady, record)
	return &event, nil
}

// ReportForfeit handles a player leaving. A queued player is simply dequeued; a seated one
// loses 0-1 to the opponent. It reports whether a forfeit was recorded; repeated reports
// for the same match record nothing.
func (c *Coordinator) ReportForfeit(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrInvalidUser
	}
	c.mu.Lock()
	if c.dequeueLocked(userID) {
		c.mu.Unlock()
		return false, nil
	}
	c.forgetTournamentsLocked(func(pair *tournamentPair) bool {
		return pair.users[0] == userID || pair.users[1] == userID
	})
	c.mu.Unlock()

	record, ok, err := c.store.ActiveFor(ctx, userID)
	if err != nil {
		return false, eris.Wrapf(err, "resolve match of %s", userID)
	}
	if !ok {
		return false, nil
	}
	opponent, _ := record.Opponent(userID)
	recorded, err := c.store.Finalize(ctx, record.MatchID, Result{
		Status:      StatusForfeit,
		WinnerID:    opponent,
		LoserID:     userID,
		WinnerScore: 1,
		LoserScore:  0,
	})
	if err != nil {
		return false, eris.Wrapf(err, "forfeit match %s", record.MatchID)
	}
	if recorded {
		c.log.Info("match forfeited", logging.String("match_id", record.MatchID), logging.String("winner_id", opponent), logging.String("loser_id", userID))
	}
	return recorded, nil
}

// EndMatch settles an active match as completed. Settling a match twice is a silent no-op.
func (c *Coordinator) EndMatch(ctx context.Context, matchID string, result Result) (bool, error) {
	result.Status = StatusCompleted
	recorded, err := c.store.Finalize(ctx, matchID, result)
	if err != nil {
		return false, eris.Wrapf(err, "end match %s", matchID)
	}
	c.mu.Lock()
	c.forgetTournamentsLocked(func(pair *tournamentPair) bool { return pair.matchID == matchID })
	c.mu.Unlock()
	if !recorded {
		c.log.Debug("match already settled", logging.String("match_id", matchID))
		return false, nil
	}
	c.log.Info("match completed",
		logging.String("match_id", matchID),
		logging.String("winner_id", result.WinnerID),
		logging.Int("winner_score", result.WinnerScore),
		logging.Int("loser_score", result.LoserScore),
	)
	return true, nil
}

// GetOpponent returns the opponent of userID in its active match.
func (c *Coordinator) GetOpponent(ctx context.Context, userID string) (string, error) {
	record, ok, err := c.store.ActiveFor(ctx, userID)
	if err != nil {
		return "", eris.Wrapf(err, "resolve opponent of %s", userID)
	}
	if !ok {
		return "", eris.Wrapf(ErrNoActiveMatch, "user %s", userID)
	}
	opponent, _ := record.Opponent(userID)
	return opponent, nil
}

// GetMatchStatus returns the lifecycle state of a match.
func (c *Coordinator) GetMatchStatus(ctx context.Context, matchID string) (Status, error) {
	record, ok, err := c.store.Get(ctx, matchID)
	if err != nil {
		return "", eris.Wrapf(err, "load status of %s", matchID)
	}
	if !ok {
		return "", eris.Wrapf(ErrUnknownMatch, "match %s", matchID)
	}
	return record.Status, nil
}

// GetNames resolves the display names of both players. Autonomous opponents render as
// AI and unknown users fall back to their seat name.
func (c *Coordinator) GetNames(ctx context.Context, matchID string) (Names, error) {
	record, ok, err := c.store.Get(ctx, matchID)
	if err != nil {
		return Names{}, eris.Wrapf(err, "load names of %s", matchID)
	}
	if !ok {
		return Names{}, eris.Wrapf(ErrUnknownMatch, "match %s", matchID)
	}
	return Names{
		MatchID:   matchID,
		Player1:   c.displayName(ctx, record.Player1, "Player1"),
		Player2:   c.displayName(ctx, record.Player2, "Player2"),
		Player1ID: record.Player1,
		Player2ID: record.Player2,
	}, nil
}

// Sweep drops queue entries that waited longer than the configured TTL and returns them.
func (c *Coordinator) Sweep() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 || len(c.queue) == 0 {
		return nil
	}
	now := c.now()
	var expired []string
	kept := c.queue[:0]
	for _, entry := range c.queue {
		if now.Sub(entry.joinedAt) > c.ttl {
			expired = append(expired, entry.userID)
			continue
		}
		kept = append(kept, entry)
	}
	c.queue = kept
	if len(expired) > 0 {
		c.log.Info("expired queue entries dropped", logging.Strings("user_ids", expired))
	}
	return expired
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Queued returns the waiting players in join order.
func (c *Coordinator) Queued() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.queue))
	for _, entry := range c.queue {
		users = append(users, entry.userID)
	}
	return users
}

// Stats reports the waiting room size.
func (c *Coordinator) Stats() QueueStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return QueueStats{Queued: len(c.queue), PendingTournaments: len(c.tournaments)}
}

// PlayerStats exposes the aggregated results of userID.
func (c *Coordinator) PlayerStats(ctx context.Context, userID string) (PlayerStats, error) {
	return c.store.Stats(ctx, userID)
}

func (c *Coordinator) displayName(ctx context.Context, userID, seat string) string {
	if strings.HasPrefix(userID, protocol.AIUserPrefix) {
		return aiName
	}
	if c.directory != nil {
		name, err := c.directory.DisplayName(ctx, userID)
		if err != nil {
			c.log.Warn("display name lookup failed", logging.String("user_id", userID), logging.Error(err))
		} else if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return seat
}

func (c *Coordinator) dequeueLocked(userID string) bool {
	for i, entry := range c.queue {
		if entry.userID == userID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) forgetTournamentsLocked(match func(pair *tournamentPair) bool) {
	for key, pair := range c.tournaments {
		if match(pair) {
			delete(c.tournaments, key)
		}
	}
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

func announcement(kind string, record Record) protocol.MatchEvent {
	return protocol.MatchEvent{
		Type:    kind,
		MatchID: record.MatchID,
		Players: []protocol.Player{
			{UserID: record.Player1, Side: sideLeft},
			{UserID: record.Player2, Side: sideRight},
		},
	}
}
