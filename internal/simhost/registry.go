package simhost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/physics"
	"pongnet/core/internal/protocol"
	"pongnet/core/internal/replay"
	"pongnet/core/internal/simulation"
)

var (
	// ErrUnknownMatch is returned when a directive names a match with no live runner.
	ErrUnknownMatch = errors.New("unknown match")
	// ErrMatchPaused is returned for paddle moves while the match is paused or over.
	ErrMatchPaused = errors.New("match is paused")
)

// Broadcaster receives every state line a runner emits. Implementations must not block.
type Broadcaster interface {
	Broadcast(matchID, line string)
	// Finished is called once after the final line of a match.
	Finished(matchID string)
}

type discardBroadcaster struct{}

func (discardBroadcaster) Broadcast(string, string) {}

func (discardBroadcaster) Finished(string) {}

// Option customises a Registry.
type Option func(*Registry)

// WithTickRate overrides the simulation frequency.
func WithTickRate(hz float64) Option {
	return func(r *Registry) {
		if hz > 0 {
			r.tickRate = hz
		}
	}
}

// WithMonitor shares a tick monitor across every match loop.
func WithMonitor(monitor *simulation.TickMonitor) Option {
	return func(r *Registry) { r.monitor = monitor }
}

// WithLogger overrides the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithRandomSource makes every new match draw serve directions from the factory.
func WithRandomSource(factory func() physics.RandomSource) Option {
	return func(r *Registry) { r.random = factory }
}

// WithRecordings writes a replay bundle per match under dir.
func WithRecordings(dir string, tracker *replay.Tracker) Option {
	return func(r *Registry) {
		r.replayDir = dir
		r.tracker = tracker
	}
}

// Registry owns every live match of the host. Exactly one runner exists per match id.
type Registry struct {
	mu      sync.Mutex
	runners map[string]*runner

	broadcaster Broadcaster
	tickRate    float64
	monitor     *simulation.TickMonitor
	log         *logging.Logger
	random      func() physics.RandomSource
	replayDir   string
	tracker     *replay.Tracker
}

// NewRegistry constructs an empty registry publishing through broadcaster.
func NewRegistry(broadcaster Broadcaster, opts ...Option) *Registry {
	if broadcaster == nil {
		broadcaster = discardBroadcaster{}
	}
	r := &Registry{
		runners:     make(map[string]*runner),
		broadcaster: broadcaster,
		tickRate:    60,
		log:         logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start creates the match and its ticker when the id is unknown. For a live id it is a
// no-op and reports false; the caller only joins the broadcast.
func (r *Registry) Start(ctx context.Context, matchID string, opts game.Options) bool {
	if r == nil || matchID == "" {
		return false
	}
	r.mu.Lock()
	if _, ok := r.runners[matchID]; ok {
		r.mu.Unlock()
		return false
	}
	run := r.newRunner(matchID, opts)
	r.runners[matchID] = run
	r.mu.Unlock()

	run.start(ctx)
	r.log.Info("match started",
		logging.String("match_id", matchID),
		logging.String("ball_speed", string(opts.BallSpeed)),
		logging.String("paddle_size", string(opts.PaddleSize)),
		logging.String("ball_size", string(opts.BallSize)),
	)
	return true
}

// Resume serves the next round of a live match with possibly changed options.
func (r *Registry) Resume(matchID string, opts game.Options) error {
	run, err := r.lookup(matchID)
	if err != nil {
		return err
	}
	return run.resume(opts)
}

// UpdatePaddle applies a paddle report. Reports for paused or finished matches are
// rejected with ErrMatchPaused.
func (r *Registry) UpdatePaddle(matchID string, side game.Side, y float64) error {
	run, err := r.lookup(matchID)
	if err != nil {
		return err
	}
	return run.updatePaddle(side, y)
}

// State returns the current snapshot of a live match.
func (r *Registry) State(matchID string) (game.State, error) {
	run, err := r.lookup(matchID)
	if err != nil {
		return game.State{}, err
	}
	return run.snapshot(), nil
}

// Disconnect stops and forgets a live match.
func (r *Registry) Disconnect(matchID string) error {
	if r == nil {
		return eris.Wrapf(ErrUnknownMatch, "match %q", matchID)
	}
	r.mu.Lock()
	run, ok := r.runners[matchID]
	if ok {
		delete(r.runners, matchID)
	}
	r.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrUnknownMatch, "match %q", matchID)
	}
	run.stop(replay.EventDisconnect)
	r.log.Info("match disconnected", logging.String("match_id", matchID))
	return nil
}

// Count reports the number of live matches.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

// Close stops every live match.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	runners := make([]*runner, 0, len(r.runners))
	for id, run := range r.runners {
		runners = append(runners, run)
		delete(r.runners, id)
	}
	r.mu.Unlock()
	for _, run := range runners {
		run.stop(replay.EventDisconnect)
	}
}

func (r *Registry) lookup(matchID string) (*runner, error) {
	if r == nil {
		return nil, eris.Wrapf(ErrUnknownMatch, "match %q", matchID)
	}
	r.mu.Lock()
	run, ok := r.runners[matchID]
	r.mu.Unlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownMatch, "match %q", matchID)
	}
	return run, nil
}

// remove forgets run only if it is still the registered runner for its id.
func (r *Registry) remove(run *runner) {
	r.mu.Lock()
	if current, ok := r.runners[run.id]; ok && current == run {
		delete(r.runners, run.id)
	}
	r.mu.Unlock()
}

func (r *Registry) newRunner(matchID string, opts game.Options) *runner {
	var gameOpts []game.Option
	if r.random != nil {
		gameOpts = append(gameOpts, game.WithRandom(r.random()))
	}
	run := &runner{
		id:       matchID,
		registry: r,
		game:     game.New(matchID, opts, gameOpts...),
		log:      r.log.With(logging.String("match_id", matchID)),
	}
	if r.replayDir != "" {
		step := time.Duration(float64(time.Second) / r.tickRate)
		recorder, err := replay.NewMatchRecorder(r.replayDir, matchID, opts, step, r.tracker, nil)
		if err != nil {
			run.log.Warn("match recording disabled", logging.Error(err))
		} else {
			run.recorder = recorder
		}
	}
	run.loop = simulation.NewLoop(r.tickRate, run.step, simulation.WithMonitor(r.monitor))
	return run
}

// runner pairs one engine with its ticker.
type runner struct {
	id       string
	registry *Registry
	log      *logging.Logger
	loop     *simulation.Loop
	recorder *replay.MatchRecorder

	mu       sync.Mutex
	game     *game.Game
	lastLine string

	stopOnce sync.Once
}

func (run *runner) start(ctx context.Context) {
	run.mu.Lock()
	state := run.game.State()
	run.mu.Unlock()
	run.recorder.Mark(replay.EventStart, state)
	run.loop.Start(ctx)
}

func (run *runner) step(time.Duration) {
	//1.- Advance the engine and render the snapshot under the match lock.
	run.mu.Lock()
	run.game.Tick()
	state := run.game.State()
	line := protocol.EncodeState(state)
	changed := line != run.lastLine
	run.lastLine = line
	run.mu.Unlock()

	run.recorder.Tick(state)

	//2.- Identical consecutive states are suppressed; the final state always goes out.
	if changed || state.IsGameOver {
		run.registry.broadcaster.Broadcast(run.id, line)
	}
	if state.IsGameOver {
		run.log.Info("match over",
			logging.Int("left_score", state.Score.Left),
			logging.Int("right_score", state.Score.Right),
		)
		run.loop.Cancel()
		run.registry.remove(run)
		run.finish("")
	}
}

func (run *runner) resume(opts game.Options) error {
	run.mu.Lock()
	err := run.game.Resume(opts)
	state := run.game.State()
	run.mu.Unlock()
	if err != nil {
		return eris.Wrapf(err, "resume match %q", run.id)
	}
	run.recorder.Mark(replay.EventResume, state)
	return nil
}

func (run *runner) updatePaddle(side game.Side, y float64) error {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.game.IsPaused() || run.game.IsGameOver() {
		return eris.Wrapf(ErrMatchPaused, "match %q", run.id)
	}
	if err := run.game.UpdatePaddle(side, y); err != nil {
		return eris.Wrapf(err, "match %q", run.id)
	}
	return nil
}

func (run *runner) snapshot() game.State {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.game.State()
}

// stop cancels the ticker from outside the loop goroutine and waits for it.
func (run *runner) stop(reason string) {
	run.loop.Stop()
	run.finish(reason)
}

// finish releases the runner exactly once.
func (run *runner) finish(reason string) {
	run.stopOnce.Do(func() {
		if reason != "" {
			run.recorder.Mark(reason, run.snapshot())
		}
		if err := run.recorder.Close(); err != nil {
			run.log.Warn("match recording failed", logging.Error(err))
		}
		run.registry.broadcaster.Finished(run.id)
	})
}
