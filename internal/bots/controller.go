package bots

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/simulation"
)

// DecisionInterval is the default spacing between two decision steps of a bot.
const DecisionInterval = 30 * time.Millisecond

// ErrUnknownBot is returned for commands naming a match without a bot.
var ErrUnknownBot = errors.New("no bot for match")

// MoveSink publishes what the bots decide.
type MoveSink interface {
	// PaddleMove reports the new top edge of the right paddle of matchID.
	PaddleMove(matchID string, y float64) error
	// Release tells the router the bot of matchID finished its match.
	Release(matchID string) error
}

// Snapshot exposes the bot population for metrics export.
type Snapshot struct {
	Bots     int
	Released int64
}

// ControllerConfig configures the bot controller.
type ControllerConfig struct {
	Sink             MoveSink
	DecisionInterval time.Duration
	BotOptions       []BotOption
	Monitor          *simulation.TickMonitor
	Logger           *logging.Logger
}

// Controller runs one decision loop per match with an autonomous opponent.
type Controller struct {
	mu   sync.Mutex
	bots map[string]*entry

	sink     MoveSink
	interval time.Duration
	botOpts  []BotOption
	monitor  *simulation.TickMonitor
	log      *logging.Logger
	released int64
}

type entry struct {
	bot  *Bot
	loop *simulation.Loop

	// lastY and published are only touched by the decision loop.
	lastY     float64
	published bool
}

// NewController constructs a controller publishing through cfg.Sink.
func NewController(cfg ControllerConfig) *Controller {
	controller := &Controller{
		bots:     make(map[string]*entry),
		sink:     cfg.Sink,
		interval: DecisionInterval,
		botOpts:  cfg.BotOptions,
		monitor:  cfg.Monitor,
		log:      cfg.Logger,
	}
	//1.- Fall back to the package defaults for anything left unset.
	if cfg.DecisionInterval > 0 {
		controller.interval = cfg.DecisionInterval
	}
	if controller.log == nil {
		controller.log = logging.L()
	}
	return controller
}

// Start creates the bot of matchID and its decision loop. A second START for the same
// match keeps the running bot and reports false.
func (c *Controller) Start(ctx context.Context, matchID string, opts game.Options) bool {
	if c == nil || matchID == "" {
		return false
	}
	c.mu.Lock()
	if _, ok := c.bots[matchID]; ok {
		c.mu.Unlock()
		return false
	}
	e := &entry{bot: NewBot(matchID, opts, c.botOpts...)}
	e.loop = simulation.NewIntervalLoop(c.interval, func(time.Duration) { c.step(e) }, simulation.WithMonitor(c.monitor))
	c.bots[matchID] = e
	c.mu.Unlock()

	e.loop.Start(ctx)
	c.log.Info("bot started", logging.String("match_id", matchID))
	return true
}

// Resume unpauses the bot of matchID for the next round.
func (c *Controller) Resume(matchID string, opts game.Options) error {
	e, err := c.lookup(matchID)
	if err != nil {
		return err
	}
	e.bot.Resume(opts)
	return nil
}

// Reset pauses the bot of matchID and recentres its paddle.
func (c *Controller) Reset(matchID string) error {
	e, err := c.lookup(matchID)
	if err != nil {
		return err
	}
	e.bot.Reset()
	return nil
}

// Observe forwards a state snapshot to the bot of its match. Unknown matches are ignored.
func (c *Controller) Observe(state game.State) bool {
	e, err := c.lookup(state.MatchID)
	if err != nil {
		return false
	}
	return e.bot.Observe(state)
}

// Stop tears down the bot of matchID without notifying the sink.
func (c *Controller) Stop(matchID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	e, ok := c.bots[matchID]
	if ok {
		delete(c.bots, matchID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.loop.Stop()
	c.log.Info("bot stopped", logging.String("match_id", matchID))
	return true
}

// StopAll tears down every bot, used when the link to the router is lost.
func (c *Controller) StopAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.bots))
	for id, e := range c.bots {
		entries = append(entries, e)
		delete(c.bots, id)
	}
	c.mu.Unlock()
	for _, e := range entries {
		e.loop.Stop()
	}
}

// Snapshot returns the live bot count without mutating state.
func (c *Controller) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Bots: len(c.bots), Released: c.released}
}

func (c *Controller) lookup(matchID string) (*entry, error) {
	if c == nil {
		return nil, eris.Wrapf(ErrUnknownBot, "match %q", matchID)
	}
	c.mu.Lock()
	e, ok := c.bots[matchID]
	c.mu.Unlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownBot, "match %q", matchID)
	}
	return e, nil
}

func (c *Controller) step(e *entry) {
	matchID := e.bot.MatchID()
	//1.- A finished match retires its bot from inside the loop and tells the router once.
	if e.bot.IsGameOver() {
		e.loop.Cancel()
		c.mu.Lock()
		current, ok := c.bots[matchID]
		owned := ok && current == e
		if owned {
			delete(c.bots, matchID)
			c.released++
		}
		c.mu.Unlock()
		if !owned || c.sink == nil {
			return
		}
		if err := c.sink.Release(matchID); err != nil {
			c.log.Warn("bot release not delivered", logging.String("match_id", matchID), logging.Error(err))
		}
		c.log.Info("bot finished", logging.String("match_id", matchID))
		return
	}
	//2.- Otherwise decide, and publish only when the paddle actually moved.
	y := e.bot.Tick()
	if c.sink == nil || (e.published && y == e.lastY) {
		return
	}
	if err := c.sink.PaddleMove(matchID, y); err != nil {
		c.log.Debug("paddle move not delivered", logging.String("match_id", matchID), logging.Error(err))
		return
	}
	e.lastY, e.published = y, true
}
