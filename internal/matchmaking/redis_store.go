package matchmaking

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const keyPrefix = "pong:"

func redisMatchKey(matchID string) string  { return keyPrefix + "match:" + matchID }
func redisActiveKey(userID string) string  { return keyPrefix + "active:" + userID }
func redisStatsKey(userID string) string   { return keyPrefix + "stats:" + userID }
func redisProfileKey(userID string) string { return keyPrefix + "user:" + userID }

// createScript inserts a match hash and points both seated players at it.
// KEYS: match, active index of player1, active index of player2.
// ARGV: matchId, player1, player2, mode, createdAt, index player1, index player2.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'matchId', ARGV[1], 'player1', ARGV[2], 'player2', ARGV[3],
  'mode', ARGV[4], 'status', 'active', 'createdAt', ARGV[5])
if ARGV[6] == '1' then redis.call('SET', KEYS[2], ARGV[1]) end
if ARGV[7] == '1' then redis.call('SET', KEYS[3], ARGV[1]) end
return 1
`)

// finalizeScript moves an active match to a terminal status and returns the affected rows.
// KEYS: match, active index of player1, active index of player2, winner stats, loser stats.
// ARGV: status, winnerId, loserId, winnerScore, loserScore, matchId, track winner, track loser.
var finalizeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'winnerId', ARGV[2], 'loserId', ARGV[3],
  'winnerScore', ARGV[4], 'loserScore', ARGV[5])
for i = 2, 3 do
  if redis.call('GET', KEYS[i]) == ARGV[6] then
    redis.call('DEL', KEYS[i])
  end
end
if ARGV[7] == '1' then
  redis.call('HINCRBY', KEYS[4], 'played', 1)
  redis.call('HINCRBY', KEYS[4], 'won', 1)
  local best = tonumber(redis.call('HGET', KEYS[4], 'highestScore') or '0')
  if tonumber(ARGV[4]) > best then
    redis.call('HSET', KEYS[4], 'highestScore', ARGV[4])
  end
end
if ARGV[8] == '1' then
  redis.call('HINCRBY', KEYS[5], 'played', 1)
end
return 1
`)

// RedisStore persists matches as Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// OpenRedisStore parses url, connects and verifies the server answers.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "ping redis at %s", options.Addr)
	}
	return NewRedisStore(client), nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, record Record) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	keys := []string{redisMatchKey(record.MatchID), redisActiveKey(record.Player1), redisActiveKey(record.Player2)}
	created, err := createScript.Run(ctx, s.client, keys,
		record.MatchID, record.Player1, record.Player2, string(record.Mode), createdAt.UnixMilli(),
		flag(indexable(record.Player1)), flag(indexable(record.Player2)),
	).Int()
	if err != nil {
		return eris.Wrapf(err, "create match %s", record.MatchID)
	}
	if created == 0 {
		return eris.Wrapf(ErrDuplicateMatch, "create match %s", record.MatchID)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, matchID string) (Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisMatchKey(matchID)).Result()
	if err != nil {
		return Record{}, false, eris.Wrapf(err, "load match %s", matchID)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	return recordFromHash(fields), true, nil
}

// ActiveFor implements Store.
func (s *RedisStore) ActiveFor(ctx context.Context, userID string) (Record, bool, error) {
	matchID, err := s.client.Get(ctx, redisActiveKey(userID)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, eris.Wrapf(err, "load active match of %s", userID)
	}
	record, ok, err := s.Get(ctx, matchID)
	if err != nil || !ok || record.Status != StatusActive {
		return Record{}, false, err
	}
	return record, true, nil
}

// Finalize implements Store.
func (s *RedisStore) Finalize(ctx context.Context, matchID string, result Result) (bool, error) {
	record, ok, err := s.Get(ctx, matchID)
	if err != nil || !ok {
		return false, err
	}
	keys := []string{
		redisMatchKey(matchID),
		redisActiveKey(record.Player1),
		redisActiveKey(record.Player2),
		redisStatsKey(result.WinnerID),
		redisStatsKey(result.LoserID),
	}
	affected, err := finalizeScript.Run(ctx, s.client, keys,
		string(result.Status), result.WinnerID, result.LoserID, result.WinnerScore, result.LoserScore, matchID,
		flag(tracksStats(result.WinnerID)), flag(tracksStats(result.LoserID)),
	).Int()
	if err != nil {
		return false, eris.Wrapf(err, "finalize match %s", matchID)
	}
	return affected == 1, nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context, userID string) (PlayerStats, error) {
	fields, err := s.client.HGetAll(ctx, redisStatsKey(userID)).Result()
	if err != nil {
		return PlayerStats{}, eris.Wrapf(err, "load stats of %s", userID)
	}
	return PlayerStats{
		Played:       atoi(fields["played"]),
		Won:          atoi(fields["won"]),
		HighestScore: atoi(fields["highestScore"]),
	}, nil
}

// SetName registers a display name under the user's profile hash.
func (s *RedisStore) SetName(ctx context.Context, userID, name string) error {
	return eris.Wrapf(s.client.HSet(ctx, redisProfileKey(userID), "name", name).Err(), "store name of %s", userID)
}

// DisplayName implements Directory.
func (s *RedisStore) DisplayName(ctx context.Context, userID string) (string, error) {
	name, err := s.client.HGet(ctx, redisProfileKey(userID), "name").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "load name of %s", userID)
	}
	return name, nil
}

func recordFromHash(fields map[string]string) Record {
	record := Record{
		MatchID:     fields["matchId"],
		Player1:     fields["player1"],
		Player2:     fields["player2"],
		Mode:        Mode(fields["mode"]),
		Status:      Status(fields["status"]),
		WinnerID:    fields["winnerId"],
		LoserID:     fields["loserId"],
		WinnerScore: atoi(fields["winnerScore"]),
		LoserScore:  atoi(fields["loserScore"]),
	}
	if millis, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		record.CreatedAt = time.UnixMilli(millis)
	}
	return record
}

func atoi(raw string) int {
	value, _ := strconv.Atoi(raw)
	return value
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
