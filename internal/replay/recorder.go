package replay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pongnet/core/internal/game"
	"pongnet/core/internal/protocol"
)

// Event types written by MatchRecorder.
const (
	EventStart      = "start"
	EventResume     = "resume"
	EventScore      = "score"
	EventGameOver   = "game_over"
	EventDisconnect = "disconnect"
)

// Stats summarises recorder activity across a host for monitoring endpoints.
type Stats struct {
	Open      int64
	Completed int64
	Failures  int64
}

// Tracker aggregates recorder activity. The zero value is ready to use.
type Tracker struct {
	open      atomic.Int64
	completed atomic.Int64
	failures  atomic.Int64
}

// Snapshot copies the counters.
func (t *Tracker) Snapshot() Stats {
	if t == nil {
		return Stats{}
	}
	return Stats{Open: t.open.Load(), Completed: t.completed.Load(), Failures: t.failures.Load()}
}

// MatchRecorder turns the per tick snapshots of one match into a replay bundle. Frames
// carry the state line of every distinct snapshot; score changes and the final result
// are also logged as events.
type MatchRecorder struct {
	mu      sync.Mutex
	writer  *Writer
	step    time.Duration
	tracker *Tracker
	tick    uint64
	last    game.State
	seen    bool
	err     error
}

// NewMatchRecorder opens a bundle for matchID under root.
func NewMatchRecorder(root, matchID string, opts game.Options, step time.Duration, tracker *Tracker, clock func() time.Time) (*MatchRecorder, error) {
	settings := map[string]string{
		"ballSpeed":  string(opts.BallSpeed),
		"ballSize":   string(opts.BallSize),
		"paddleSize": string(opts.PaddleSize),
	}
	writer, _, err := NewWriter(root, matchID, settings, clock)
	if err != nil {
		if tracker != nil {
			tracker.failures.Add(1)
		}
		return nil, fmt.Errorf("open recording for %s: %w", matchID, err)
	}
	if tracker != nil {
		tracker.open.Add(1)
	}
	return &MatchRecorder{writer: writer, step: step, tracker: tracker}, nil
}

// Directory returns the bundle directory.
func (r *MatchRecorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.writer.Directory()
}

// Mark logs an explicit lifecycle event such as a start or a resume.
func (r *MatchRecorder) Mark(eventType string, state game.State) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keep(r.writer.AppendEvent(r.tick, r.simulatedMs(), eventType, state))
}

// Tick records the snapshot produced by one simulation step.
func (r *MatchRecorder) Tick(state game.State) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++

	//1.- Derive score and result events by diffing against the previous snapshot.
	if r.seen && state.Score != r.last.Score {
		r.keep(r.writer.AppendEvent(r.tick, r.simulatedMs(), EventScore, state.Score))
	}
	if state.IsGameOver && (!r.seen || !r.last.IsGameOver) {
		r.keep(r.writer.AppendEvent(r.tick, r.simulatedMs(), EventGameOver, state))
	}

	//2.- Persist the frame only when the snapshot changed.
	if !r.seen || state != r.last {
		r.keep(r.writer.AppendFrame(r.tick, r.simulatedMs(), []byte(protocol.EncodeState(state))))
	}
	r.last = state
	r.seen = true
}

// Close finalises the bundle and returns the first error observed while recording.
func (r *MatchRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return r.err
	}
	r.keep(r.writer.Close())
	r.writer = nil
	if r.tracker != nil {
		r.tracker.open.Add(-1)
		if r.err != nil {
			r.tracker.failures.Add(1)
		} else {
			r.tracker.completed.Add(1)
		}
	}
	return r.err
}

func (r *MatchRecorder) simulatedMs() int64 {
	return (time.Duration(r.tick) * r.step).Milliseconds()
}

func (r *MatchRecorder) keep(err error) {
	if err != nil && r.err == nil {
		r.err = err
	}
}
