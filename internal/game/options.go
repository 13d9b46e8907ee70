package game

import "strings"

const (
	// FieldWidth is the logical width of every match, independent of client viewports.
	FieldWidth = 719.0
	// FieldHeight is the logical height of every match.
	FieldHeight = 359.0
	// PaddleWidth is the fixed paddle thickness.
	PaddleWidth = FieldWidth * 0.0125
	// MaxScore ends the match once either side reaches it.
	MaxScore = 5
)

// BallSpeed selects the base ball velocity.
type BallSpeed string

// Size selects the dimension of a ball or a paddle.
type Size string

const (
	SpeedNormal BallSpeed = "NORMAL"
	SpeedFast   BallSpeed = "FAST"

	SizeSmall Size = "SMALL"
	SizeLarge Size = "LARGE"
)

// Side identifies the paddle a player controls.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ParseSide normalises a textual side, reporting whether it is known.
func ParseSide(raw string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideLeft:
		return SideLeft, true
	case SideRight:
		return SideRight, true
	default:
		return "", false
	}
}

// Options carries the per-match physics configuration chosen by the players.
type Options struct {
	BallSpeed   BallSpeed
	BallSize    Size
	PaddleSize  Size
	PaddleSpeed string
}

// ParseOptions builds options from raw enum strings; anything unrecognised falls back to
// the NORMAL/SMALL defaults.
func ParseOptions(ballSpeed, ballSize, paddleSize string) Options {
	opts := Options{BallSpeed: SpeedNormal, BallSize: SizeSmall, PaddleSize: SizeSmall}
	if BallSpeed(strings.ToUpper(strings.TrimSpace(ballSpeed))) == SpeedFast {
		opts.BallSpeed = SpeedFast
	}
	if Size(strings.ToUpper(strings.TrimSpace(ballSize))) == SizeLarge {
		opts.BallSize = SizeLarge
	}
	if Size(strings.ToUpper(strings.TrimSpace(paddleSize))) == SizeLarge {
		opts.PaddleSize = SizeLarge
	}
	return opts
}

// PaddleHeightFor returns the paddle height for a size enum.
func PaddleHeightFor(size Size) float64 {
	if size == SizeLarge {
		return FieldHeight * 0.25
	}
	return FieldHeight * 0.15
}

// BallRadiusFor returns the ball radius for a size enum.
func BallRadiusFor(size Size) float64 {
	if size == SizeLarge {
		return FieldHeight * 0.05
	}
	return FieldHeight * 0.03
}

// BaseVelocity returns the base horizontal and vertical ball speed for a speed enum.
func BaseVelocity(speed BallSpeed) (vx, vy float64) {
	if speed == SpeedFast {
		return PaddleWidth * 0.9, FieldHeight * 0.020
	}
	return PaddleWidth * 0.66, FieldHeight * 0.015
}
