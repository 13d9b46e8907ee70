package bots

import (
	"math"
	"sync"
	"time"

	"pongnet/core/internal/game"
	"pongnet/core/internal/physics"
)

const (
	// PerceptionInterval is the minimum spacing between accepted state observations.
	PerceptionInterval = time.Second
	// targetInset keeps the predicted contact point in front of the paddle face.
	targetInset = 10.0
	// speedFactor scales the observed vertical ball speed into the paddle speed cap.
	speedFactor = 1.1

	minReaction   = 0.45
	maxReaction   = 0.75
	baseMargin    = 1.3
	marginSpread  = 0.5
	scoreSpan     = 5.0
	offsetPaddles = 2.0
	maxBounces    = 64
)

// Bot steers the right paddle of one match from throttled snapshots. All methods are
// safe for concurrent use: Observe arrives on the link reader while Tick runs on the
// decision loop.
type Bot struct {
	mu sync.Mutex

	matchID      string
	paddleHeight float64
	paddleY      float64
	speed        float64
	ball         game.BallState
	leftScore    int
	rightScore   int
	paused       bool
	over         bool

	differential int
	offset       float64
	observedAt   time.Time
	interval     time.Duration

	rng physics.RandomSource
	now func() time.Time
}

// BotOption customises a Bot.
type BotOption func(*Bot)

// WithBotRandom injects the source the sticky aiming error is drawn from.
func WithBotRandom(rng physics.RandomSource) BotOption {
	return func(b *Bot) {
		if rng != nil {
			b.rng = rng
		}
	}
}

// WithBotClock injects the clock used to throttle observations.
func WithBotClock(now func() time.Time) BotOption {
	return func(b *Bot) {
		if now != nil {
			b.now = now
		}
	}
}

// WithPerceptionInterval overrides the observation throttle.
func WithPerceptionInterval(interval time.Duration) BotOption {
	return func(b *Bot) {
		if interval >= 0 {
			b.interval = interval
		}
	}
}

// NewBot returns a paused bot with a centred paddle sized for opts.
func NewBot(matchID string, opts game.Options, options ...BotOption) *Bot {
	b := &Bot{
		matchID:  matchID,
		paused:   true,
		interval: PerceptionInterval,
		rng:      physics.DefaultRandom,
		now:      time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(b)
		}
	}
	b.configure(opts)
	return b
}

// MatchID reports the match the bot plays.
func (b *Bot) MatchID() string { return b.matchID }

// PaddleY returns the current top edge of the controlled paddle.
func (b *Bot) PaddleY() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paddleY
}

// IsGameOver reports whether the last accepted observation ended the match.
func (b *Bot) IsGameOver() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.over
}

// Observe accepts a snapshot unless one was accepted within the perception interval.
// The final snapshot of a match is always accepted. It reports whether the snapshot
// was taken.
func (b *Bot) Observe(state game.State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !state.IsGameOver && !b.observedAt.IsZero() && now.Sub(b.observedAt) < b.interval {
		return false
	}
	b.observedAt = now
	b.ball = state.Ball
	b.leftScore = state.Score.Left
	b.rightScore = state.Score.Right
	b.paused = state.IsPaused
	b.over = state.IsGameOver
	return true
}

// Resume re-sizes the paddle for the next round, recentres it and unpauses the bot.
func (b *Bot) Resume(opts game.Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configure(opts)
	b.paused = false
}

// Reset pauses the bot and recentres its paddle.
func (b *Bot) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	b.paddleY = (game.FieldHeight - b.paddleHeight) / 2
}

// Tick runs one decision step and returns the resulting paddle position.
func (b *Bot) Tick() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused || b.over {
		return b.paddleY
	}
	//1.- Refresh the difficulty knobs before deciding whether to react at all.
	b.refreshDifferential()
	if b.ball.X < game.FieldWidth*ReactionThreshold(b.differential) {
		return b.paddleY
	}

	//2.- Aim at the predicted crossing plus the sticky error, capped by the ball's pace.
	target := PredictY(b.ball.X, b.ball.Y, b.ball.DX, b.ball.DY, game.FieldWidth-game.PaddleWidth-targetInset, game.FieldHeight)
	target += b.offset
	centre := b.paddleY + b.paddleHeight/2
	distance := math.Abs(target - centre)
	step := math.Min(b.pace(), distance*0.5*Margin(b.differential))
	if target > centre {
		b.paddleY += step
	} else {
		b.paddleY -= step
	}
	b.paddleY = clamp(b.paddleY, 0, game.FieldHeight-b.paddleHeight)
	return b.paddleY
}

func (b *Bot) configure(opts game.Options) {
	b.paddleHeight = game.PaddleHeightFor(opts.PaddleSize)
	b.paddleY = (game.FieldHeight - b.paddleHeight) / 2
	_, vy := game.BaseVelocity(opts.BallSpeed)
	b.speed = math.Abs(vy) * speedFactor
	if b.ball == (game.BallState{}) {
		b.ball = game.BallState{X: game.FieldWidth / 2, Y: game.FieldHeight / 2}
	}
}

// pace prefers the observed vertical speed and falls back to the configured base speed.
func (b *Bot) pace() float64 {
	if b.ball.DY != 0 {
		return math.Abs(b.ball.DY) * speedFactor
	}
	return b.speed
}

// refreshDifferential redraws the aiming error only when the score gap moved.
func (b *Bot) refreshDifferential() {
	d := b.rightScore - b.leftScore
	if d == b.differential {
		return
	}
	b.differential = d
	u := 2*b.rng.Float64() - 1
	b.offset = u * ErrorScale(d) * b.paddleHeight
}

// ReactionThreshold is the fraction of the field width the ball must cross before the
// bot reacts, given d = rightScore - leftScore.
func ReactionThreshold(d int) float64 {
	return minReaction + (maxReaction-minReaction)*clamp(float64(d)/scoreSpan, 0, 1)
}

// Margin multiplies the per tick distance budget, given d = rightScore - leftScore.
func Margin(d int) float64 {
	return baseMargin + marginSpread*clamp(float64(d)/scoreSpan, -1, 1)
}

// ErrorScale is the maximum aiming error in paddle heights, given d = rightScore - leftScore.
func ErrorScale(d int) float64 {
	return clamp(float64(d)/scoreSpan, 0, 1) * offsetPaddles
}

// PredictY unrolls wall bounces until the ball reaches targetX and returns the y it
// crosses at. A ball moving away from targetX keeps its current y.
func PredictY(x, y, vx, vy, targetX, height float64) float64 {
	minXDistance := height * 0.015
	for bounce := 0; bounce < maxBounces && ((vx > 0 && x < targetX) || (vx < 0 && x > targetX)); bounce++ {
		var toWall float64
		if vy > 0 {
			toWall = (height - y) / vy
		} else {
			toWall = -y / vy
		}
		toTarget := (targetX - x) / vx
		if math.Abs(toWall) < math.Abs(toTarget) && math.Abs(targetX-x) > minXDistance {
			y += vy * toWall
			x += vx * toWall
			vy = -vy
			continue
		}
		y += vy * toTarget
		break
	}
	return y
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
