// internal/pong/types.go
//
// Court geometry and simulation constants for the Pong physics model.
// These values are shared with the browser client; changing any of them
// changes gameplay for every match, so they are deliberately not
// configurable at runtime.

package pong

import "time"

const (
	CourtWidth   = 800.0
	CourtHeight  = 600.0
	PaddleWidth  = 10.0
	PaddleHeight = 100.0
	BallSize     = 10.0

	// Per-tick movement at the reference tick rate.
	PaddleSpeed = 15.0
	BallSpeed   = 5.0

	PointsToWin = 5
)

// TickRate is the reference simulation frequency. Variable wall-clock
// deltas between ticks are normalized against TickInterval so the ball
// covers the same distance per second regardless of scheduling jitter.
const TickRate = 60

// TickInterval is the target wall-clock spacing between ticks.
const TickInterval = time.Second / TickRate

// Ball is the projectile state. Velocity is expressed in court units
// per reference tick, not per second.
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Score identifies which side, if any, scored during a tick.
type Score int

const (
	ScoreNone Score = iota
	ScoreLeft
	ScoreRight
)
