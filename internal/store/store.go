// internal/store/store.go
//
// Persistence types and the interface the match core depends on.
// The realtime engine only ever needs three things from storage: who is
// allowed to occupy the two player slots, a best-effort status mirror,
// and an idempotent terminal write. Everything else (game CRUD,
// tournaments) is served by the concrete *DB and consumed by the HTTP
// layer directly.

package store

import (
	"context"
	"errors"
	"time"
)

// Game lifecycle statuses. The engine, the database, and the wire all
// use this single vocabulary.
const (
	StatusPending  = "pending" // row created, match never went live
	StatusWaiting  = "waiting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotJoinable   = errors.New("not joinable")
	ErrSelfPlay      = errors.New("cannot play against yourself")
)

// Matches is the storage surface a live match session uses.
// Implementations must make RecordResult idempotent on gameID: writing
// the same terminal result twice produces one stored record.
type Matches interface {
	// MatchParticipants returns the two identities authorized to occupy
	// the left and right player slots. ErrNotFound for unknown gameIDs.
	MatchParticipants(ctx context.Context, gameID string) (leftID, rightID string, err error)

	// MarkLive mirrors a non-terminal lifecycle status onto the game row.
	MarkLive(ctx context.Context, gameID, status string) error

	// RecordResult commits the terminal score and winner exactly once.
	RecordResult(ctx context.Context, gameID string, leftScore, rightScore int, winnerID string) error
}

// Game matches the games table shape, joined with player names.
type Game struct {
	ID           string    `json:"id"`
	Player1ID    string    `json:"player1Id"`
	Player2ID    string    `json:"player2Id"`
	Player1Name  string    `json:"player1Name"`
	Player2Name  string    `json:"player2Name"`
	Player1Score int       `json:"player1Score"`
	Player2Score int       `json:"player2Score"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winnerId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Tournament is a single-elimination bracket.
type Tournament struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // pending | active | finished
	CreatedBy string    `json:"createdBy"`
	WinnerID  string    `json:"winnerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is a tournament entrant.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// BracketMatch is one game placed in a tournament bracket.
type BracketMatch struct {
	GameID       string `json:"gameId"`
	Round        int    `json:"round"`
	MatchOrder   int    `json:"matchOrder"`
	Player1ID    string `json:"player1Id"`
	Player2ID    string `json:"player2Id"`
	Player1Name  string `json:"player1Name"`
	Player2Name  string `json:"player2Name"`
	Player1Score int    `json:"player1Score"`
	Player2Score int    `json:"player2Score"`
	Status       string `json:"status"`
	WinnerID     string `json:"winnerId,omitempty"`
}
