package gateway

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"

	"pongnet/core/internal/game"
	"pongnet/core/internal/grpc"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/matchmaking"
	"pongnet/core/internal/protocol"
)

func TestSimLinkWritesBoundDirectivesAndDecodesState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	link := NewSimLink(ln.Addr().String(), 10*time.Millisecond, logging.NewTestLogger())
	states := make(chan game.State, 4)
	link.Bind(func(state game.State) { states <- state })
	assert.ErrorIs(t, link.Send("alice", "m1", protocol.GetState()), ErrBackendUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = link.Run(ctx) }()

	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, link.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, link.Send("alice", "m1", protocol.UpdatePaddle(game.SideLeft, 40)))
	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	second, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "SET_USER alice m1\n", first)
	assert.Equal(t, "UPDATE_PADDLE left 40\n", second)

	snapshot := game.State{MatchID: "m1", Score: game.Score{Left: 2, Right: 1}}
	_, err = conn.Write([]byte("noise\n" + protocol.EncodeState(snapshot) + "\n"))
	require.NoError(t, err)
	select {
	case state := <-states:
		assert.Equal(t, "m1", state.MatchID)
		assert.Equal(t, 2, state.Score.Left)
		assert.Equal(t, 1, state.Score.Right)
	case <-time.After(time.Second):
		t.Fatal("state line never decoded")
	}
}

func startCoordinator(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	coordinator := matchmaking.NewCoordinator(matchmaking.NewMemoryStore(), matchmaking.WithLogger(logging.NewTestLogger()))
	srv := gogrpc.NewServer(grpc.ServerOptions("link-secret")...)
	grpc.RegisterLinkServer(srv, matchmaking.NewServer(coordinator, logging.NewTestLogger()))
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)
	return ln.Addr().String()
}

func TestMatchLinkCorrelatesOpponentLookups(t *testing.T) {
	addr := startCoordinator(t)
	link := NewMatchLink(MatchLinkConfig{
		Address:       addr,
		Secret:        "link-secret",
		LookupTimeout: time.Second,
		RetryDelay:    10 * time.Millisecond,
		Logger:        logging.NewTestLogger(),
	})
	events := make(chan protocol.MatchEvent, 4)
	link.Bind(func(event protocol.MatchEvent) { events <- event })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = link.Run(ctx) }()
	require.Eventually(t, link.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, link.Send(protocol.MatchRequest{Type: protocol.MatchInitSolo, UserID: "alice", Mode: protocol.SoloModeAI}))
	var ready protocol.MatchEvent
	select {
	case ready = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("solo announcement never arrived")
	}
	assert.Equal(t, protocol.EventSoloMatchReady, ready.Type)

	opponent, err := link.LookupOpponent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.AIUserID(ready.MatchID), opponent)

	_, err = link.LookupOpponent(ctx, "nobody")
	assert.True(t, eris.Is(err, ErrNoOpponent), "unexpected error %v", err)

	select {
	case event := <-events:
		t.Fatalf("lookup reply leaked to the handler: %+v", event)
	default:
	}
}

func TestMatchLinkRejectedWithoutSecret(t *testing.T) {
	addr := startCoordinator(t)
	link := NewMatchLink(MatchLinkConfig{Address: addr, Secret: "wrong", RetryDelay: 10 * time.Millisecond, Logger: logging.NewTestLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = link.Run(ctx) }()

	// The stream opens lazily; the interceptor rejects it on the first exchange.
	time.Sleep(50 * time.Millisecond)
	_, err := link.LookupOpponent(ctx, "alice")
	assert.Error(t, err)
}

func TestSimLinkRefusesUnusableIdentifiers(t *testing.T) {
	link := NewSimLink("127.0.0.1:1", time.Second, logging.NewTestLogger())
	for _, ids := range [][2]string{{"alice", "x y"}, {"alice", "a:b"}, {"al ice", "m1"}, {"alice", "m1\nSTART"}} {
		err := link.Send(ids[0], ids[1], protocol.GetState())
		assert.True(t, eris.Is(err, ErrInvalidIdentifier), "%q: %v", ids, err)
	}
}
