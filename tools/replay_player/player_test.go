package replayplayer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"pongnet/core/internal/game"
	"pongnet/core/internal/replay"
)

func recordMatch(t *testing.T) string {
	t.Helper()
	recorder, err := replay.NewMatchRecorder(t.TempDir(), "m-42", game.ParseOptions("FAST", "SMALL", "LARGE"), 16*time.Millisecond, nil, nil)
	if err != nil {
		t.Fatalf("NewMatchRecorder: %v", err)
	}
	dir := recorder.Directory()

	state := game.State{MatchID: "m-42", Ball: game.BallState{X: 359.5, Y: 179.5}, Paddles: game.PaddleState{LeftY: 140, RightY: 140}}
	recorder.Mark(replay.EventStart, state)
	recorder.Tick(state)
	state.Ball.X = 380
	recorder.Tick(state)
	state.Score.Left = 5
	state.IsGameOver = true
	recorder.Tick(state)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return dir
}

func TestLoadSummarizesRecording(t *testing.T) {
	summary, err := Load(recordMatch(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if summary.MatchID != "m-42" {
		t.Fatalf("unexpected match id %q", summary.MatchID)
	}
	if summary.Frames != 3 || len(summary.Snapshots) != 3 {
		t.Fatalf("expected three frames, got %d/%d", summary.Frames, len(summary.Snapshots))
	}
	if !summary.Finished || summary.FinalScore.Left != 5 {
		t.Fatalf("unexpected outcome %+v finished=%v", summary.FinalScore, summary.Finished)
	}
	if summary.Duration != 48*time.Millisecond {
		t.Fatalf("unexpected duration %s", summary.Duration)
	}
	if summary.Settings["ballSpeed"] != "FAST" {
		t.Fatalf("unexpected settings %+v", summary.Settings)
	}
	if len(summary.Marks) == 0 || summary.Marks[0].Type != replay.EventStart {
		t.Fatalf("expected the start mark first, got %+v", summary.Marks)
	}
	if got := summary.Snapshots[1].State.Ball.X; got != 380 {
		t.Fatalf("unexpected ball x %v", got)
	}
}

func TestPlayPacesBySimulatedTime(t *testing.T) {
	summary, err := Load(recordMatch(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var pauses []time.Duration
	var out bytes.Buffer
	if err := Play(&out, summary, 2, func(d time.Duration) { pauses = append(pauses, d) }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected three lines, got %q", out.String())
	}
	if !strings.HasSuffix(lines[2], "score=5-0 [over]") {
		t.Fatalf("unexpected final line %q", lines[2])
	}
	if len(pauses) != 2 || pauses[0] != 8*time.Millisecond {
		t.Fatalf("unexpected pauses %v", pauses)
	}
}

func TestLoadRejectsMissingBundle(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory without manifest")
	}
}
