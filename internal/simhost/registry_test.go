package simhost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/physics"
	"pongnet/core/internal/protocol"
	"pongnet/core/internal/replay"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

type recordingBroadcaster struct {
	mu       sync.Mutex
	lines    map[string][]string
	finished map[string]int
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{lines: make(map[string][]string), finished: make(map[string]int)}
}

func (b *recordingBroadcaster) Broadcast(matchID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[matchID] = append(b.lines[matchID], line)
}

func (b *recordingBroadcaster) Finished(matchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished[matchID]++
}

func (b *recordingBroadcaster) count(matchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines[matchID])
}

func (b *recordingBroadcaster) last(matchID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines[matchID]
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func (b *recordingBroadcaster) finishedCount(matchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished[matchID]
}

func newTestRegistry(b Broadcaster, opts ...Option) *Registry {
	base := []Option{
		WithTickRate(500),
		WithLogger(logging.NewTestLogger()),
		WithRandomSource(func() physics.RandomSource { return fixedRandom(0.9) }),
	}
	return NewRegistry(b, append(base, opts...)...)
}

func TestRegistrySuppressesIdenticalStates(t *testing.T) {
	b := newRecordingBroadcaster()
	registry := newTestRegistry(b)
	defer registry.Close()

	require.True(t, registry.Start(context.Background(), "m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL")))
	require.Eventually(t, func() bool { return b.count("m-1") >= 1 }, time.Second, 2*time.Millisecond)

	//1.- A paused match keeps ticking but never repeats its snapshot.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, b.count("m-1"))

	state, err := protocol.DecodeState(b.last("m-1"))
	require.NoError(t, err)
	assert.True(t, state.IsPaused)
	assert.Equal(t, "m-1", state.MatchID)

	//2.- Resuming serves the ball so every tick now differs.
	require.NoError(t, registry.Resume("m-1", game.ParseOptions("FAST", "SMALL", "SMALL")))
	require.Eventually(t, func() bool { return b.count("m-1") >= 5 }, time.Second, 2*time.Millisecond)
	live, err := protocol.DecodeState(b.last("m-1"))
	require.NoError(t, err)
	assert.False(t, live.IsPaused)
}

func TestRegistryStartIsIdempotent(t *testing.T) {
	b := newRecordingBroadcaster()
	registry := newTestRegistry(b)
	defer registry.Close()

	assert.True(t, registry.Start(context.Background(), "m-1", game.Options{}))
	assert.False(t, registry.Start(context.Background(), "m-1", game.Options{}))
	assert.False(t, registry.Start(context.Background(), "", game.Options{}))
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryRejectsPaddleWhilePaused(t *testing.T) {
	registry := newTestRegistry(newRecordingBroadcaster())
	defer registry.Close()
	registry.Start(context.Background(), "m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL"))

	err := registry.UpdatePaddle("m-1", game.SideLeft, 40)
	assert.True(t, eris.Is(err, ErrMatchPaused))

	require.NoError(t, registry.Resume("m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL")))
	require.NoError(t, registry.UpdatePaddle("m-1", game.SideLeft, 40))
	state, err := registry.State("m-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, state.Paddles.LeftY)

	err = registry.UpdatePaddle("m-1", game.Side("middle"), 40)
	assert.True(t, eris.Is(err, game.ErrUnknownSide))
}

func TestRegistryUnknownMatch(t *testing.T) {
	registry := newTestRegistry(nil)

	assert.True(t, eris.Is(registry.Resume("ghost", game.Options{}), ErrUnknownMatch))
	assert.True(t, eris.Is(registry.UpdatePaddle("ghost", game.SideLeft, 1), ErrUnknownMatch))
	assert.True(t, eris.Is(registry.Disconnect("ghost"), ErrUnknownMatch))
	_, err := registry.State("ghost")
	assert.True(t, eris.Is(err, ErrUnknownMatch))
}

func TestRegistryDisconnectReleasesOnce(t *testing.T) {
	b := newRecordingBroadcaster()
	registry := newTestRegistry(b)
	registry.Start(context.Background(), "m-1", game.Options{})

	require.NoError(t, registry.Disconnect("m-1"))
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 1, b.finishedCount("m-1"))

	//1.- The id is free again and a new runner starts from scratch.
	assert.True(t, registry.Start(context.Background(), "m-1", game.Options{}))
	registry.Close()
	assert.Equal(t, 2, b.finishedCount("m-1"))
	assert.Equal(t, 0, registry.Count())
}

func TestRegistryStopsWithContext(t *testing.T) {
	b := newRecordingBroadcaster()
	registry := newTestRegistry(b)
	defer registry.Close()
	ctx, cancel := context.WithCancel(context.Background())
	registry.Start(ctx, "m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL"))
	require.NoError(t, registry.Resume("m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL")))
	require.Eventually(t, func() bool { return b.count("m-1") >= 2 }, time.Second, 2*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	frozen := b.count("m-1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, b.count("m-1"))
}

func TestRegistryRecordsMatches(t *testing.T) {
	dir := t.TempDir()
	tracker := &replay.Tracker{}
	registry := newTestRegistry(newRecordingBroadcaster(), WithRecordings(dir, tracker))

	registry.Start(context.Background(), "m-rec", game.ParseOptions("NORMAL", "SMALL", "SMALL"))
	assert.Equal(t, int64(1), tracker.Snapshot().Open)
	require.NoError(t, registry.Disconnect("m-rec"))

	stats := tracker.Snapshot()
	assert.Equal(t, int64(0), stats.Open)
	assert.Equal(t, int64(1), stats.Completed)
}
