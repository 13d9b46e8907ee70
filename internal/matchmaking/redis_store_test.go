package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pongnet/core/internal/protocol"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), server
}

func TestRedisStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisTestStore(t)
	created := time.UnixMilli(1714564800000)

	require.NoError(t, store.Create(ctx, Record{MatchID: "m-1", Player1: "alice", Player2: "bob", Mode: ModeOneVsOne, CreatedAt: created}))
	err := store.Create(ctx, Record{MatchID: "m-1", Player1: "carol", Player2: "dave"})
	assert.True(t, eris.Is(err, ErrDuplicateMatch))

	record, ok, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{MatchID: "m-1", Player1: "alice", Player2: "bob", Mode: ModeOneVsOne, Status: StatusActive, CreatedAt: created}, record)

	active, ok, err := store.ActiveFor(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m-1", active.MatchID)

	server.CheckGet(t, redisActiveKey("alice"), "m-1")
	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreFinalizeReportsAffectedRows(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisTestStore(t)
	require.NoError(t, store.Create(ctx, Record{MatchID: "m-1", Player1: "alice", Player2: protocol.AIUserID("m-1"), Mode: ModeSolo}))

	result := Result{Status: StatusCompleted, WinnerID: "alice", LoserID: "AI-m-1", WinnerScore: 5, LoserScore: 2}
	affected, err := store.Finalize(ctx, "m-1", result)
	require.NoError(t, err)
	assert.True(t, affected)

	affected, err = store.Finalize(ctx, "m-1", Result{Status: StatusForfeit, WinnerID: "AI-m-1", LoserID: "alice", WinnerScore: 1})
	require.NoError(t, err)
	assert.False(t, affected)

	record, _, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
	assert.Equal(t, 5, record.WinnerScore)

	_, ok, err := store.ActiveFor(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, server.Exists(redisActiveKey("alice")))
	assert.False(t, server.Exists(redisStatsKey("AI-m-1")), "autonomous opponents carry no statistics")

	stats, err := store.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, PlayerStats{Played: 1, Won: 1, HighestScore: 5}, stats)
}

func TestRedisStoreBacksCoordinator(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t)
	require.NoError(t, store.SetName(ctx, "alice", "Alice"))
	c := newTestCoordinator(store)

	_, _ = c.JoinQueue(ctx, "alice")
	event, err := c.JoinQueue(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, event)

	names, err := c.GetNames(ctx, event.MatchID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", names.Player1)
	assert.Equal(t, "Player2", names.Player2)

	recorded, err := c.ReportForfeit(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, recorded)
	recorded, err = c.ReportForfeit(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, recorded)

	matchStatus, err := c.GetMatchStatus(ctx, event.MatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusForfeit, matchStatus)
}

func TestOpenRedisStoreRejectsBadURL(t *testing.T) {
	_, err := OpenRedisStore(context.Background(), "not a url")
	assert.Error(t, err)

	server := miniredis.RunT(t)
	store, err := OpenRedisStore(context.Background(), "redis://"+server.Addr()+"/0")
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
