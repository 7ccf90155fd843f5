// internal/pong/physics.go
//
// Core physics for a single simulation tick.
// Responsibilities:
//   - Advance the ball by its velocity, scaled to the elapsed time.
//   - Reflect off the horizontal walls (lossless bounce).
//   - Bounce off paddles with an angle derived from the hit position.
//   - Detect out-of-bounds crossings and convert them into score events.
//   - Clamp paddle movement to the court.
//
// Notes:
//   - Everything here is pure computation: no I/O, no shared state, no
//     clocks. Randomness for the post-score serve comes from an injected
//     *rand.Rand so a fixed seed reproduces a bit-identical trajectory.
//   - Check order matters: walls before paddles before scoring, all in
//     the same tick. Reordering produces double-bounce artifacts and
//     snapshots with the ball outside the court.
package pong

import (
	"math"
	"math/rand"
	"time"
)

// Step advances b by one tick of elapsed time, bouncing off walls and
// the two paddles at leftY/rightY. If the ball crosses a vertical edge
// the scorer is returned and the ball is reset toward the side that was
// scored against, so no post-tick ball position is ever outside
// [0, CourtWidth].
func Step(b *Ball, leftY, rightY float64, elapsed time.Duration, rng *rand.Rand) Score {
	scale := float64(elapsed) / float64(TickInterval)

	b.X += b.DX * scale
	b.Y += b.DY * scale

	// Horizontal walls: negate dy and clamp onto the boundary.
	if b.Y <= 0 || b.Y >= CourtHeight-BallSize {
		b.DY = -b.DY
		if b.Y <= 0 {
			b.Y = 0
		} else {
			b.Y = CourtHeight - BallSize
		}
	}

	// Left paddle: leading edge at or past the paddle plane with a
	// vertical overlap. The ball is snapped back onto the paddle face to
	// prevent tunneling on the next tick.
	if b.X <= PaddleWidth && b.Y+BallSize >= leftY && b.Y <= leftY+PaddleHeight {
		angle := bounceAngle(b.Y, leftY)
		b.DX = BallSpeed * math.Cos(angle)
		b.DY = BallSpeed * math.Sin(angle)
		b.X = PaddleWidth
	}

	// Right paddle, mirrored.
	if b.X >= CourtWidth-PaddleWidth-BallSize && b.Y+BallSize >= rightY && b.Y <= rightY+PaddleHeight {
		angle := bounceAngle(b.Y, rightY)
		b.DX = -BallSpeed * math.Cos(angle)
		b.DY = BallSpeed * math.Sin(angle)
		b.X = CourtWidth - PaddleWidth - BallSize
	}

	// Out of bounds: the crossing converts into a score + reset within
	// the same tick, so callers never publish a ball outside the court.
	if b.X < 0 {
		Reset(b, -1, rng)
		return ScoreRight
	}
	if b.X > CourtWidth {
		Reset(b, 1, rng)
		return ScoreLeft
	}
	return ScoreNone
}

// bounceAngle maps where the ball struck the paddle onto [-45°, +45°]:
// top edge steers sharply up, center returns flat, bottom edge steers
// sharply down.
func bounceAngle(ballY, paddleY float64) float64 {
	hitPos := (ballY - paddleY) / PaddleHeight
	return (hitPos - 0.5) * math.Pi / 2
}

// Reset places the ball at court center serving toward direction
// (-1 = left, +1 = right) at full speed, with a randomized vertical
// component inside the speed envelope.
func Reset(b *Ball, direction float64, rng *rand.Rand) {
	b.X = CourtWidth / 2
	b.Y = CourtHeight / 2
	b.DX = BallSpeed * direction
	b.DY = BallSpeed * (rng.Float64()*2 - 1)
}

// MovePaddle applies one tick of buffered input to a paddle position.
// Direction outside {-1, 0, 1} is clamped rather than rejected.
func MovePaddle(y float64, direction int) float64 {
	if direction > 1 {
		direction = 1
	} else if direction < -1 {
		direction = -1
	}
	y += float64(direction) * PaddleSpeed
	return clamp(y, 0, CourtHeight-PaddleHeight)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
