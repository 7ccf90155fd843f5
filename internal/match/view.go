// internal/match/view.go
//
// Read-only projections of a live match, safe to serialize and fan out.
// Positions are rounded here, and only here, for wire compactness;
// the simulation itself always runs on unrounded floats.

package match

import (
	"math"

	"github.com/pongarena/server/internal/pong"
)

// PlayerView is one slot as seen by subscribers.
type PlayerView struct {
	ID    string  `json:"id"`
	Y     float64 `json:"y"`
	Score int     `json:"score"`
	Ready bool    `json:"ready"`
}

// Snapshot is the broadcastable view of a match at one point in time.
type Snapshot struct {
	GameID    string     `json:"gameId"`
	Status    Status     `json:"status"`
	Left      PlayerView `json:"left"`
	Right     PlayerView `json:"right"`
	Ball      pong.Ball  `json:"ball"`
	WinnerID  string     `json:"winnerId,omitempty"`
	EndReason string     `json:"endReason,omitempty"`
}

// Event is the unit handed to the broadcast transport. The gateway
// serializes it as-is onto every subscriber of the topic.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher decouples the session from the wire transport. Publish must
// not block: the tick loop treats it as fire-and-forget.
type Publisher interface {
	Publish(topic string, event Event)
}

// round2 keeps wire payloads short without disturbing simulation state.
func round2(v float64) float64 { return math.Round(v*100) / 100 }
