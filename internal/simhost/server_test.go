package simhost

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/physics"
	"pongnet/core/internal/protocol"
)

func startTestServer(t *testing.T, opts ...ServerOption) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	base := []ServerOption{
		WithServerLogger(logging.NewTestLogger()),
		WithRegistryOptions(
			WithTickRate(500),
			WithRandomSource(func() physics.RandomSource { return fixedRandom(0.9) }),
		),
	}
	server := NewServer(append(base, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return server, ln.Addr().String()
}

type testLink struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialLink(t *testing.T, addr string) *testLink {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testLink{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (l *testLink) send(t *testing.T, directives ...protocol.Directive) {
	t.Helper()
	for _, d := range directives {
		_, err := l.conn.Write([]byte(d.String() + "\n"))
		require.NoError(t, err)
	}
}

func (l *testLink) next(t *testing.T) string {
	t.Helper()
	require.NoError(t, l.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.True(t, l.scanner.Scan(), "expected a state line: %v", l.scanner.Err())
	return l.scanner.Text()
}

func TestServerFansOutToBoundLinks(t *testing.T) {
	server, addr := startTestServer(t)
	left := dialLink(t, addr)
	right := dialLink(t, addr)

	//1.- Both links bind the same match before the first START creates it.
	right.send(t, protocol.SetUser("bob", "m-1"))
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.subscribers["m-1"]) == 1
	}, time.Second, 2*time.Millisecond)
	left.send(t, protocol.SetUser("alice", "m-1"), protocol.Start(protocolOptions()))

	for _, link := range []*testLink{left, right} {
		line := link.next(t)
		state, err := protocol.DecodeState(line)
		require.NoError(t, err)
		assert.Equal(t, "m-1", state.MatchID)
		assert.True(t, state.IsPaused)
	}

	//2.- A second START for the live match only joins it.
	right.send(t, protocol.Start(protocolOptions()))
	require.Eventually(t, func() bool { return server.Stats().Matches == 1 && server.Stats().Links == 2 }, time.Second, 2*time.Millisecond)

	left.send(t, protocol.Resume(protocolOptions()))
	state, err := protocol.DecodeState(right.next(t))
	require.NoError(t, err)
	assert.False(t, state.IsPaused)
}

func TestServerGetStateAnswersOnlyTheAsker(t *testing.T) {
	_, addr := startTestServer(t)
	link := dialLink(t, addr)
	link.send(t, protocol.SetUser("alice", "m-2"), protocol.Start(protocolOptions()))
	first := link.next(t)
	require.True(t, protocol.IsStateLine(first))

	link.send(t, protocol.GetState())
	again := link.next(t)
	assert.Equal(t, first, again)
}

func TestServerIgnoresGarbageAndUnboundDirectives(t *testing.T) {
	server, addr := startTestServer(t)
	link := dialLink(t, addr)

	_, err := link.conn.Write([]byte("HELLO world\n\nUPDATE_PADDLE left\n"))
	require.NoError(t, err)
	link.send(t, protocol.Start(protocolOptions()))
	link.send(t, protocol.SetUser("alice", "m-3"), protocol.Start(protocolOptions()))

	line := link.next(t)
	assert.True(t, strings.HasPrefix(line, protocol.StatePrefix+":"))
	assert.Equal(t, 1, server.Stats().Matches)
}

func TestServerDisconnectStopsMatch(t *testing.T) {
	server, addr := startTestServer(t)
	link := dialLink(t, addr)
	link.send(t, protocol.SetUser("alice", "m-4"), protocol.Start(protocolOptions()))
	link.next(t)

	link.send(t, protocol.Disconnect())
	require.Eventually(t, func() bool { return server.Stats().Matches == 0 }, time.Second, 2*time.Millisecond)
	server.mu.Lock()
	_, subscribed := server.subscribers["m-4"]
	server.mu.Unlock()
	assert.False(t, subscribed)
}

func TestServerDropsLinesForFullOutbox(t *testing.T) {
	server := NewServer(WithServerLogger(logging.NewTestLogger()), WithOutboxDepth(1))
	client, peer := net.Pipe()
	defer client.Close()
	l := server.newLink(peer)
	server.subscribe(l, "m-5")

	server.Broadcast("m-5", "first")
	server.Broadcast("m-5", "second")
	assert.Equal(t, int64(1), server.Stats().Dropped)

	server.dropLink(l)
	server.Broadcast("m-5", "third")
	assert.Equal(t, int64(1), server.Stats().Dropped)
	assert.Equal(t, 0, server.Stats().Links)
}

func protocolOptions() game.Options {
	return game.ParseOptions("NORMAL", "SMALL", "SMALL")
}

func TestServerUnbindsOnBrokenSetUser(t *testing.T) {
	server, addr := startTestServer(t)
	link := dialLink(t, addr)
	link.send(t, protocol.SetUser("alice", "m-6"), protocol.Start(protocolOptions()))
	link.next(t)
	require.Equal(t, 1, server.Stats().Matches)

	//1.- The DISCONNECT follows a binding that failed to parse and must not reach m-6.
	_, err := link.conn.Write([]byte("SET_USER bob x y\n" + protocol.Disconnect().String() + "\n"))
	require.NoError(t, err)
	link.send(t, protocol.SetUser("carol", "m-7"), protocol.Start(protocolOptions()))
	require.Eventually(t, func() bool { return server.Stats().Matches == 2 }, time.Second, 2*time.Millisecond)

	_, err = server.Registry().State("m-6")
	assert.NoError(t, err)
}
