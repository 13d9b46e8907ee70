package bots

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
)

type recordingSink struct {
	mu       sync.Mutex
	moves    map[string][]float64
	released []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{moves: make(map[string][]float64)}
}

func (s *recordingSink) PaddleMove(matchID string, y float64) error {
	//1.- Record every published position so tests can inspect the decision stream.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves[matchID] = append(s.moves[matchID], y)
	return nil
}

func (s *recordingSink) Release(matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, matchID)
	return nil
}

func (s *recordingSink) moveCount(matchID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moves[matchID])
}

func (s *recordingSink) releasedMatches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestController(sink MoveSink) *Controller {
	return NewController(ControllerConfig{
		Sink:             sink,
		DecisionInterval: 2 * time.Millisecond,
		BotOptions:       []BotOption{WithPerceptionInterval(0)},
		Logger:           logging.NewTestLogger(),
	})
}

func TestControllerPublishesMovesPerMatch(t *testing.T) {
	sink := newRecordingSink()
	controller := newTestController(sink)
	defer controller.StopAll()
	ctx := context.Background()

	if !controller.Start(ctx, "m-1", game.ParseOptions("NORMAL", "SMALL", "SMALL")) {
		t.Fatal("expected first start to create a bot")
	}
	if controller.Start(ctx, "m-1", game.Options{}) {
		t.Fatal("expected duplicate start to keep the running bot")
	}
	controller.Start(ctx, "m-2", game.Options{})
	if snap := controller.Snapshot(); snap.Bots != 2 {
		t.Fatalf("expected 2 bots, got %+v", snap)
	}

	//1.- Paused bots announce their paddle once and then stay quiet.
	waitFor(t, func() bool { return sink.moveCount("m-1") == 1 && sink.moveCount("m-2") == 1 })
	time.Sleep(10 * time.Millisecond)
	if sink.moveCount("m-1") != 1 || sink.moveCount("m-2") != 1 {
		t.Fatalf("paused bots kept publishing: %d, %d", sink.moveCount("m-1"), sink.moveCount("m-2"))
	}

	if err := controller.Resume("m-1", game.ParseOptions("FAST", "SMALL", "SMALL")); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !controller.Observe(game.State{MatchID: "m-1", Ball: game.BallState{X: 650, Y: 20, DX: 5, DY: 2}}) {
		t.Fatal("expected observation to reach the bot")
	}
	waitFor(t, func() bool { return sink.moveCount("m-1") >= 3 })
	if sink.moveCount("m-2") != 1 {
		t.Fatalf("paused bot published %d moves", sink.moveCount("m-2"))
	}
	if controller.Observe(game.State{MatchID: "ghost"}) {
		t.Fatal("observation for an unknown match must be ignored")
	}
	if err := controller.Reset("m-2"); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestControllerReleasesFinishedBots(t *testing.T) {
	sink := newRecordingSink()
	controller := newTestController(sink)
	controller.Start(context.Background(), "m-1", game.Options{})

	controller.Observe(game.State{MatchID: "m-1", IsGameOver: true, Score: game.Score{Left: 5}})
	waitFor(t, func() bool { return controller.Snapshot().Bots == 0 })

	released := sink.releasedMatches()
	if len(released) != 1 || released[0] != "m-1" {
		t.Fatalf("expected a single release for m-1, got %v", released)
	}
	if snap := controller.Snapshot(); snap.Released != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	//1.- A later disconnect for the same match is a harmless no-op.
	if controller.Stop("m-1") {
		t.Fatal("expected stop of a released bot to report false")
	}
}

func TestControllerStopIsSilent(t *testing.T) {
	sink := newRecordingSink()
	controller := newTestController(sink)
	controller.Start(context.Background(), "m-1", game.Options{})

	if !controller.Stop("m-1") {
		t.Fatal("expected stop to remove the bot")
	}
	frozen := sink.moveCount("m-1")
	time.Sleep(10 * time.Millisecond)
	if sink.moveCount("m-1") != frozen {
		t.Fatal("stopped bot kept publishing")
	}
	if len(sink.releasedMatches()) != 0 {
		t.Fatal("stop must not release through the sink")
	}
}

func TestControllerUnknownMatch(t *testing.T) {
	controller := newTestController(nil)
	if err := controller.Resume("ghost", game.Options{}); !eris.Is(err, ErrUnknownBot) {
		t.Fatalf("expected ErrUnknownBot, got %v", err)
	}
	if err := controller.Reset("ghost"); !eris.Is(err, ErrUnknownBot) {
		t.Fatalf("expected ErrUnknownBot, got %v", err)
	}
	var nilController *Controller
	if nilController.Start(context.Background(), "m", game.Options{}) {
		t.Fatal("nil controller must not start bots")
	}
	if snap := nilController.Snapshot(); snap.Bots != 0 {
		t.Fatalf("unexpected nil snapshot %+v", snap)
	}
}

func TestControllerReleasesWithDefaultPerception(t *testing.T) {
	sink := newRecordingSink()
	controller := NewController(ControllerConfig{
		Sink:             sink,
		DecisionInterval: 2 * time.Millisecond,
		Logger:           logging.NewTestLogger(),
	})
	defer controller.StopAll()
	controller.Start(context.Background(), "m-1", game.Options{})

	//1.- The final state arrives one tick after a regular one, well inside the throttle.
	if !controller.Observe(game.State{MatchID: "m-1", Ball: game.BallState{X: 400, Y: 300}}) {
		t.Fatal("first observation must be accepted")
	}
	time.Sleep(16 * time.Millisecond)
	if !controller.Observe(game.State{MatchID: "m-1", IsGameOver: true, Score: game.Score{Right: 5}}) {
		t.Fatal("final state must be accepted")
	}
	waitFor(t, func() bool { return controller.Snapshot().Bots == 0 })

	released := sink.releasedMatches()
	if len(released) != 1 || released[0] != "m-1" {
		t.Fatalf("expected a single release for m-1, got %v", released)
	}
	frozen := sink.moveCount("m-1")
	time.Sleep(10 * time.Millisecond)
	if sink.moveCount("m-1") != frozen {
		t.Fatal("released bot kept publishing")
	}
}
