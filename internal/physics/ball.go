package physics

import (
	"math"
	"math/rand"
)

// speedFloor is the fraction of the base speed a paddle contact may slow the ball down to.
const speedFloor = 0.8

// RandomSource yields uniformly distributed values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// DefaultRandom draws from the process-wide math/rand source.
var DefaultRandom RandomSource = globalRandom{}

// Ball tracks the kinematics of the match ball inside a field of fixed height.
type Ball struct {
	X           float64
	Y           float64
	VX          float64
	VY          float64
	Radius      float64
	FieldHeight float64

	minVX float64
	maxVX float64
	minVY float64
	maxVY float64
	rng   RandomSource
}

// NewBall places a ball at (x, y) and derives its speed band from the base velocity.
func NewBall(x, y, vx, vy, radius, fieldHeight float64, rng RandomSource) *Ball {
	if rng == nil {
		rng = DefaultRandom
	}
	ball := &Ball{rng: rng}
	ball.place(x, y, vx, vy, radius, fieldHeight)
	return ball
}

// Update advances the ball by one step and reflects it off the top and bottom walls.
func (b *Ball) Update() {
	if b == nil {
		return
	}
	b.X += b.VX
	b.Y += b.VY
	if b.Y <= 0 || b.Y >= b.FieldHeight {
		b.VY = -b.VY
	}
}

// ReverseX flips the horizontal direction after a paddle contact.
func (b *Ball) ReverseX() {
	if b == nil {
		return
	}
	b.VX = -b.VX
}

// SetSpeed clamps the magnitude of each axis into its band while keeping the current signs.
func (b *Ball) SetSpeed(vx, vy float64) {
	if b == nil {
		return
	}
	//1.- Clamp the requested magnitudes independently per axis.
	newVY := clamp(math.Abs(vy), b.minVY, b.maxVY)
	newVX := clamp(math.Abs(vx), b.minVX, b.maxVX)
	//2.- Reapply the direction the ball had before the call.
	if b.VY < 0 {
		newVY = -newVY
	}
	if b.VX < 0 {
		newVX = -newVX
	}
	b.VX = newVX
	b.VY = newVY
}

// Reset recentres the ball, restores the base speed band and picks a fresh horizontal direction.
func (b *Ball) Reset(x, y, vx, vy, radius, fieldHeight float64) {
	if b == nil {
		return
	}
	if b.rng == nil {
		b.rng = DefaultRandom
	}
	b.place(x, y, vx, vy, radius, fieldHeight)
	if b.rng.Float64() < 0.5 {
		b.VX = -b.VX
	}
}

// SpeedBand reports the configured magnitude limits per axis.
func (b *Ball) SpeedBand() (minVX, maxVX, minVY, maxVY float64) {
	if b == nil {
		return 0, 0, 0, 0
	}
	return b.minVX, b.maxVX, b.minVY, b.maxVY
}

func (b *Ball) place(x, y, vx, vy, radius, fieldHeight float64) {
	b.X = x
	b.Y = y
	b.VX = vx
	b.VY = vy
	b.Radius = radius
	b.FieldHeight = fieldHeight
	b.maxVX = math.Abs(vx)
	b.minVX = speedFloor * b.maxVX
	b.maxVY = math.Abs(vy)
	b.minVY = speedFloor * b.maxVY
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
