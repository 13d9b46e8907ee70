package game

import (
	"errors"

	"pongnet/core/internal/physics"
)

const (
	// collisionBand is how far in front of a paddle face contact is still recognised.
	collisionBand = 3.0
	// verticalMargin trims each paddle end so grazing contacts do not count.
	verticalMargin = 5.0
	// contactDivisor scales the offset from the paddle centre into the new vertical speed.
	contactDivisor = 6.0
)

var (
	// ErrGameOver is returned when a finished match is asked to resume.
	ErrGameOver = errors.New("match is over")
	// ErrUnknownSide is returned for paddle updates naming neither side.
	ErrUnknownSide = errors.New("unknown paddle side")
)

// BallState is the broadcast view of the ball.
type BallState struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// PaddleState is the broadcast view of both paddles.
type PaddleState struct {
	LeftY  float64 `json:"leftY"`
	RightY float64 `json:"rightY"`
}

// Score is the broadcast score pair.
type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// State is an immutable snapshot of a match, the unit broadcast to subscribers.
type State struct {
	Ball       BallState   `json:"ball"`
	Paddles    PaddleState `json:"paddles"`
	Score      Score       `json:"score"`
	IsPaused   bool        `json:"isPaused"`
	IsGameOver bool        `json:"isGameOver"`
	MatchID    string      `json:"gameId"`
}

// Option configures optional Game behaviour at construction time.
type Option func(*Game)

// WithRandom overrides the random source used for serve direction and centred contacts.
func WithRandom(rng physics.RandomSource) Option {
	return func(g *Game) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// Game is the authoritative simulation of one match. It is not safe for concurrent use;
// the owning host serialises access.
type Game struct {
	matchID      string
	opts         Options
	ball         *physics.Ball
	leftY        float64
	rightY       float64
	leftScore    int
	rightScore   int
	paused       bool
	over         bool
	paddleHeight float64
	rng          physics.RandomSource
}

// New creates a paused match with constants derived from the option enums.
func New(matchID string, opts Options, options ...Option) *Game {
	g := &Game{matchID: matchID, paused: true, rng: physics.DefaultRandom}
	for _, option := range options {
		if option != nil {
			option(g)
		}
	}
	g.opts = opts
	g.paddleHeight = PaddleHeightFor(opts.PaddleSize)
	vx, vy := BaseVelocity(opts.BallSpeed)
	g.ball = physics.NewBall(FieldWidth/2, FieldHeight/2, vx, vy, BallRadiusFor(opts.BallSize), FieldHeight, g.rng)
	g.centrePaddles()
	return g
}

// MatchID returns the identifier of the simulated match.
func (g *Game) MatchID() string { return g.matchID }

// Options returns the physics configuration currently in effect.
func (g *Game) Options() Options { return g.opts }

// PaddleHeight returns the height derived from the current paddle size.
func (g *Game) PaddleHeight() float64 { return g.paddleHeight }

// BallRadius returns the current ball radius.
func (g *Game) BallRadius() float64 { return g.ball.Radius }

// Ball exposes the ball for inspection in tests and tooling.
func (g *Game) Ball() *physics.Ball { return g.ball }

// IsPaused reports whether ticks are currently frozen.
func (g *Game) IsPaused() bool { return g.paused }

// IsGameOver reports whether a side reached the winning score.
func (g *Game) IsGameOver() bool { return g.over }

// Pause freezes the match until the next Resume.
func (g *Game) Pause() { g.paused = true }

// Resume re-derives the physics constants, serves a fresh ball and unpauses. A finished
// match cannot be resumed.
func (g *Game) Resume(opts Options) error {
	if g.over {
		return ErrGameOver
	}
	//1.- Recompute every size dependent constant from the (possibly changed) enums.
	g.opts = opts
	g.paddleHeight = PaddleHeightFor(opts.PaddleSize)
	g.leftY = clampPaddle(g.leftY, g.paddleHeight)
	g.rightY = clampPaddle(g.rightY, g.paddleHeight)
	//2.- Serve from the centre with a random horizontal direction.
	vx, vy := BaseVelocity(opts.BallSpeed)
	g.ball.Reset(FieldWidth/2, FieldHeight/2, vx, vy, BallRadiusFor(opts.BallSize), FieldHeight)
	g.paused = false
	return nil
}

// UpdatePaddle overwrites the paddle position reported by the side's owner, clamped to
// the field.
func (g *Game) UpdatePaddle(side Side, y float64) error {
	switch side {
	case SideLeft:
		g.leftY = clampPaddle(y, g.paddleHeight)
	case SideRight:
		g.rightY = clampPaddle(y, g.paddleHeight)
	default:
		return ErrUnknownSide
	}
	return nil
}

// Tick advances a running match by one step.
func (g *Game) Tick() {
	if g.paused || g.over {
		return
	}
	g.ball.Update()
	g.checkCollisions()
	g.checkScore()
}

// State returns a snapshot without mutating the match.
func (g *Game) State() State {
	return State{
		Ball:       BallState{X: g.ball.X, Y: g.ball.Y, DX: g.ball.VX, DY: g.ball.VY},
		Paddles:    PaddleState{LeftY: g.leftY, RightY: g.rightY},
		Score:      Score{Left: g.leftScore, Right: g.rightScore},
		IsPaused:   g.paused,
		IsGameOver: g.over,
		MatchID:    g.matchID,
	}
}

func (g *Game) checkCollisions() {
	b := g.ball
	leftFace := PaddleWidth
	rightFace := FieldWidth - PaddleWidth

	//1.- Left paddle: the leading edge must be inside the band and the ball moving left.
	if b.X-b.Radius <= leftFace+collisionBand && b.X+b.Radius >= -collisionBand && b.VX < 0 {
		if g.withinPaddle(g.leftY, b.Y) {
			b.X = leftFace + b.Radius + 1
			g.bounceOff(g.leftY)
		}
	}

	//2.- Right paddle mirrors the left check for a ball moving right.
	if b.X+b.Radius >= rightFace-collisionBand && b.X-b.Radius <= FieldWidth+collisionBand && b.VX > 0 {
		if g.withinPaddle(g.rightY, b.Y) {
			b.X = rightFace - b.Radius - 1
			g.bounceOff(g.rightY)
		}
	}
}

func (g *Game) withinPaddle(paddleY, ballY float64) bool {
	top := paddleY + verticalMargin
	bottom := paddleY + g.paddleHeight - verticalMargin
	return ballY >= top && ballY <= bottom
}

func (g *Game) bounceOff(paddleY float64) {
	centre := paddleY + g.paddleHeight/2
	newVY := (g.ball.Y - centre) / contactDivisor
	if newVY == 0 {
		newVY = 1
		if g.rng.Float64() < 0.5 {
			newVY = -1
		}
	}
	g.ball.SetSpeed(g.ball.VX, newVY)
	g.ball.ReverseX()
}

func (g *Game) checkScore() {
	b := g.ball
	switch {
	case b.X+b.Radius <= 0 && b.VX < 0:
		g.rightScore++
		g.resetRound()
	case b.X-b.Radius >= FieldWidth && b.VX > 0:
		g.leftScore++
		g.resetRound()
	}
	if g.leftScore >= MaxScore || g.rightScore >= MaxScore {
		g.over = true
		g.paused = true
	}
}

func (g *Game) resetRound() {
	vx, vy := BaseVelocity(g.opts.BallSpeed)
	g.ball.Reset(FieldWidth/2, FieldHeight/2, vx, vy, BallRadiusFor(g.opts.BallSize), FieldHeight)
	g.centrePaddles()
	g.paused = true
}

func (g *Game) centrePaddles() {
	centred := (FieldHeight - g.paddleHeight) / 2
	g.leftY = centred
	g.rightY = centred
}

func clampPaddle(y, height float64) float64 {
	if y < 0 {
		return 0
	}
	if limit := FieldHeight - height; y > limit {
		return limit
	}
	return y
}
