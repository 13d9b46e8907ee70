// Package replayplayer decodes recorded match bundles into a readable timeline.
package replayplayer

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"pongnet/core/internal/game"
	"pongnet/core/internal/protocol"
	"pongnet/core/internal/replay"
)

// Snapshot is one decoded frame of a recording.
type Snapshot struct {
	Tick        uint64     `json:"tick"`
	SimulatedMs int64      `json:"simulated_ms"`
	State       game.State `json:"state"`
}

// Mark is one lifecycle event of a recording.
type Mark struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Summary describes a whole recording.
type Summary struct {
	MatchID    string            `json:"match_id"`
	CreatedAt  string            `json:"created_at"`
	Settings   map[string]string `json:"settings,omitempty"`
	Frames     int               `json:"frames"`
	Duration   time.Duration     `json:"duration_ns"`
	FinalScore game.Score        `json:"final_score"`
	Finished   bool              `json:"finished"`
	Marks      []Mark            `json:"marks"`
	Snapshots  []Snapshot        `json:"snapshots,omitempty"`
}

// Load reads the bundle at path and decodes every frame.
func Load(path string) (Summary, error) {
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(bundle)
}

// Summarize decodes the state lines of bundle and derives the match outcome.
func Summarize(bundle replay.Bundle) (Summary, error) {
	summary := Summary{
		MatchID:   bundle.Manifest.MatchID,
		CreatedAt: bundle.Manifest.CreatedAt,
		Settings:  bundle.Manifest.Settings,
		Frames:    len(bundle.Frames),
		Marks:     make([]Mark, 0, len(bundle.Events)),
	}
	for _, event := range bundle.Events {
		summary.Marks = append(summary.Marks, Mark{Tick: event.Tick, SimulatedMs: event.SimulatedMs, Type: event.Type, Payload: event.Payload})
	}
	for _, frame := range bundle.Frames {
		state, err := protocol.DecodeState(string(frame.Payload))
		if err != nil {
			return Summary{}, fmt.Errorf("frame %d: %w", frame.Tick, err)
		}
		if state.MatchID == "" {
			state.MatchID = summary.MatchID
		}
		summary.Snapshots = append(summary.Snapshots, Snapshot{Tick: frame.Tick, SimulatedMs: frame.SimulatedMs, State: state})
	}
	if n := len(summary.Snapshots); n > 0 {
		last := summary.Snapshots[n-1]
		summary.FinalScore = last.State.Score
		summary.Finished = last.State.IsGameOver
		summary.Duration = time.Duration(last.SimulatedMs) * time.Millisecond
	}
	return summary, nil
}

// Play writes one line per snapshot to w, pacing output by the recorded simulated time
// divided by speed. A non positive speed prints without pauses.
func Play(w io.Writer, summary Summary, speed float64, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	var previous int64
	for i, snap := range summary.Snapshots {
		if speed > 0 && i > 0 {
			gap := time.Duration(float64(snap.SimulatedMs-previous)/speed) * time.Millisecond
			if gap > 0 {
				sleep(gap)
			}
		}
		previous = snap.SimulatedMs
		s := snap.State
		if _, err := fmt.Fprintf(w, "%6d %8dms ball=(%.1f,%.1f) paddles=(%.1f,%.1f) score=%d-%d%s\n",
			snap.Tick, snap.SimulatedMs, s.Ball.X, s.Ball.Y, s.Paddles.LeftY, s.Paddles.RightY,
			s.Score.Left, s.Score.Right, flags(s)); err != nil {
			return err
		}
	}
	return nil
}

func flags(s game.State) string {
	switch {
	case s.IsGameOver:
		return " [over]"
	case s.IsPaused:
		return " [paused]"
	default:
		return ""
	}
}
