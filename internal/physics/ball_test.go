package physics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func TestBallUpdateReflectsOffWalls(t *testing.T) {
	ball := NewBall(100, 2, 3, -4, 5, 359, fixedRandom(0.9))

	ball.Update()
	assert.Equal(t, 103.0, ball.X)
	assert.Equal(t, -2.0, ball.Y)
	assert.Equal(t, 4.0, ball.VY, "vy flips once the ball leaves the top edge")

	ball.Y = 357
	ball.Update()
	assert.Equal(t, 361.0, ball.Y)
	assert.Equal(t, -4.0, ball.VY, "vy flips once the ball leaves the bottom edge")
}

func TestBallUpdateIgnoresHorizontalBounds(t *testing.T) {
	ball := NewBall(-50, 100, -3, 1, 5, 359, nil)
	ball.Update()
	assert.Equal(t, -53.0, ball.X)
	assert.Equal(t, -3.0, ball.VX)
}

func TestSetSpeedKeepsMagnitudesInsideBand(t *testing.T) {
	ball := NewBall(0, 0, 6, 5, 5, 359, nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		//1.- Randomise the current direction so sign preservation is exercised on both axes.
		if rng.Intn(2) == 0 {
			ball.VX = -ball.VX
		}
		if rng.Intn(2) == 0 {
			ball.VY = -ball.VY
		}
		beforeX, beforeY := math.Signbit(ball.VX), math.Signbit(ball.VY)

		ball.SetSpeed(rng.NormFloat64()*50, rng.NormFloat64()*50)

		require.GreaterOrEqual(t, math.Abs(ball.VX), 0.8*6-1e-9)
		require.LessOrEqual(t, math.Abs(ball.VX), 6+1e-9)
		require.GreaterOrEqual(t, math.Abs(ball.VY), 0.8*5-1e-9)
		require.LessOrEqual(t, math.Abs(ball.VY), 5+1e-9)
		require.Equal(t, beforeX, math.Signbit(ball.VX))
		require.Equal(t, beforeY, math.Signbit(ball.VY))
	}
}

func TestSetSpeedClampsSmallContactVelocityUp(t *testing.T) {
	ball := NewBall(0, 0, -6, 5, 5, 359, nil)
	ball.SetSpeed(0.1, 0)
	assert.InDelta(t, -4.8, ball.VX, 1e-9)
	assert.InDelta(t, 4.0, ball.VY, 1e-9)
}

func TestResetRestoresBandAndRandomisesDirection(t *testing.T) {
	ball := NewBall(10, 10, 6, 5, 5, 359, fixedRandom(0.2))
	ball.Reset(359.5, 179.5, 4, 3, 10, 359)

	assert.Equal(t, 359.5, ball.X)
	assert.Equal(t, 179.5, ball.Y)
	assert.Equal(t, -4.0, ball.VX, "random draw below one half sends the ball left")
	assert.Equal(t, 10.0, ball.Radius)
	minVX, maxVX, minVY, maxVY := ball.SpeedBand()
	assert.InDelta(t, 3.2, minVX, 1e-9)
	assert.Equal(t, 4.0, maxVX)
	assert.InDelta(t, 2.4, minVY, 1e-9)
	assert.Equal(t, 3.0, maxVY)

	ball.rng = fixedRandom(0.7)
	ball.Reset(359.5, 179.5, 4, 3, 10, 359)
	assert.Equal(t, 4.0, ball.VX)
}
