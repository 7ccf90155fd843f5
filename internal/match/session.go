// internal/match/session.go
//
// The live, in-memory owner of one match's authoritative state.
// Responsibilities:
//   - Sequence the lifecycle: waiting → playing → finished (monotonic).
//   - Admit participants, track readiness, buffer paddle input.
//   - Run the fixed-rate tick loop, delegating physics to internal/pong.
//   - Decide termination (win threshold or forfeit) exactly once.
//   - Publish snapshots to subscribers and commit the terminal result.
//
// Concurrency contract: a single mutex serializes ticks against every
// command, so no two ticks of the same session run concurrently and no
// input application interleaves mid-tick. Broadcasting happens outside
// the lock and never blocks on consumers.

package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/pong"
	"github.com/pongarena/server/internal/store"
)

// Status is the match lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Reasons a match ends.
const (
	ReasonScore      = "score"
	ReasonDisconnect = "disconnect"
)

var (
	ErrNotAParticipant = errors.New("not a participant of this match")
	ErrAlreadyPlaying  = errors.New("match already in progress")
	ErrMatchFinished   = errors.New("match already finished")
	ErrNotPlaying      = errors.New("match not in progress")
)

// commitTimeout bounds each terminal-write attempt.
const commitTimeout = 5 * time.Second

// slot is one of the two fixed player roles.
type slot struct {
	id         string
	y          float64
	score      int
	ready      bool
	pendingDir int // latest buffered input, consumed on the next tick
}

// Session owns the MatchState for one game. All mutation goes through
// its methods; other components only ever see Snapshot copies.
type Session struct {
	id string

	mu       sync.Mutex
	status   Status
	left     slot
	right    slot
	ball     pong.Ball
	winnerID string
	reason   string
	lastTick time.Time

	rng      *rand.Rand
	matches  store.Matches
	pub      Publisher
	onFinish func(gameID string) // registry hook, called once on termination

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession creates the session for gameID, loading the two authorized
// slot identities from storage. It fails with store.ErrNotFound for a
// matchId the CRUD layer never created; sessions are never conjured
// for unknown games.
func NewSession(ctx context.Context, gameID string, matches store.Matches, pub Publisher, onFinish func(string)) (*Session, error) {
	leftID, rightID, err := matches.MatchParticipants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Session{
		id:       gameID,
		status:   StatusWaiting,
		left:     slot{id: leftID, y: (pong.CourtHeight - pong.PaddleHeight) / 2},
		right:    slot{id: rightID, y: (pong.CourtHeight - pong.PaddleHeight) / 2},
		rng:      rng,
		matches:  matches,
		pub:      pub,
		onFinish: onFinish,
		stop:     make(chan struct{}),
	}
	serve := 1.0
	if rng.Intn(2) == 0 {
		serve = -1.0
	}
	pong.Reset(&s.ball, serve, rng)

	if err := matches.MarkLive(ctx, gameID, store.StatusWaiting); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("mark waiting")
	}
	return s, nil
}

// ID returns the external match identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Join admits a participant into a player slot. Identities that are not
// recorded on the match are rejected; the gateway offers them the
// spectator path instead.
func (s *Session) Join(participantID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slotFor(participantID) == nil {
		return Snapshot{}, ErrNotAParticipant
	}
	return s.snapshotLocked(), nil
}

// Ready marks a participant's slot ready. The second ready flips the
// match to playing and starts the tick loop; that transition happens at
// most once per session instance.
func (s *Session) Ready(participantID string) error {
	s.mu.Lock()

	switch s.status {
	case StatusFinished:
		s.mu.Unlock()
		return ErrMatchFinished
	case StatusPlaying:
		s.mu.Unlock()
		return ErrAlreadyPlaying
	}

	sl := s.slotFor(participantID)
	if sl == nil {
		s.mu.Unlock()
		return ErrNotAParticipant
	}
	sl.ready = true

	started := false
	if s.left.ready && s.right.ready {
		s.status = StatusPlaying
		s.lastTick = time.Now()
		started = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if started {
		log.Info().Str("gameId", s.id).Msg("both players ready, starting match")

		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		if err := s.matches.MarkLive(ctx, s.id, store.StatusPlaying); err != nil {
			log.Warn().Err(err).Str("gameId", s.id).Msg("mark playing")
		}
		cancel()

		s.pub.Publish(s.topic(), Event{Type: "game:start", Data: snap})
		go s.run()
	}
	s.pub.Publish(s.topic(), Event{Type: "game:state", Data: snap})
	return nil
}

// ApplyInput buffers the latest paddle direction for a participant's
// slot. ErrNotPlaying means the input raced a lifecycle transition and
// is dropped; ErrNotAParticipant means the identity holds no slot.
// Out-of-range directions are clamped by the physics model rather than
// rejected.
func (s *Session) ApplyInput(participantID string, direction int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return ErrNotPlaying
	}
	sl := s.slotFor(participantID)
	if sl == nil {
		return ErrNotAParticipant
	}
	sl.pendingDir = direction // last write wins until the next tick
	return nil
}

// Disconnect handles a participant dropping. While playing it forfeits
// the match to the remaining player; in any other state it is a no-op
// (spectator bookkeeping lives in the gateway).
func (s *Session) Disconnect(participantID string) {
	s.mu.Lock()
	if s.status != StatusPlaying || s.slotFor(participantID) == nil {
		s.mu.Unlock()
		return
	}
	winner := s.right.id
	if participantID == s.right.id {
		winner = s.left.id
	}
	s.finishLocked(winner, ReasonDisconnect)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.afterFinish(snap)
}

// Snapshot returns a read-only copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Stop halts the tick loop without publishing anything. Used by the
// registry during shutdown drains.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// run is the per-session scheduling loop: one fixed-rate ticker,
// stopped when the match terminates.
func (s *Session) run() {
	ticker := time.NewTicker(pong.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick advances the simulation by the wall-clock delta since the last
// tick. It is the only writer of ball and score state.
func (s *Session) tick(now time.Time) {
	s.mu.Lock()
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return
	}

	elapsed := now.Sub(s.lastTick)
	s.lastTick = now

	// Consume buffered input: each buffered direction moves its paddle
	// by at most one tick's travel, then clears.
	s.left.y = pong.MovePaddle(s.left.y, s.left.pendingDir)
	s.right.y = pong.MovePaddle(s.right.y, s.right.pendingDir)
	s.left.pendingDir, s.right.pendingDir = 0, 0

	switch pong.Step(&s.ball, s.left.y, s.right.y, elapsed, s.rng) {
	case pong.ScoreLeft:
		s.left.score++
	case pong.ScoreRight:
		s.right.score++
	}

	terminal := false
	if s.left.score >= pong.PointsToWin {
		terminal = s.finishLocked(s.left.id, ReasonScore)
	} else if s.right.score >= pong.PointsToWin {
		terminal = s.finishLocked(s.right.id, ReasonScore)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(s.topic(), Event{Type: "game:state", Data: snap})
	if terminal {
		s.afterFinish(snap)
	}
}

// finishLocked performs the one-way transition to finished. Callers
// hold the mutex; the disconnect-forfeit and the score-win race here
// and exactly one of them observes true. The tick loop is stopped
// before the terminal snapshot is built, so no mutation follows
// termination.
func (s *Session) finishLocked(winnerID, reason string) bool {
	if s.status == StatusFinished {
		return false
	}
	s.status = StatusFinished
	s.winnerID = winnerID
	s.reason = reason
	s.stopOnce.Do(func() { close(s.stop) })
	return true
}

// EndReport is the terminal wire message payload.
type EndReport struct {
	GameID     string `json:"gameId"`
	WinnerID   string `json:"winnerId"`
	Reason     string `json:"reason"`
	LeftScore  int    `json:"leftScore"`
	RightScore int    `json:"rightScore"`
}

// afterFinish publishes the terminal messages and commits the result.
// The broadcast is never gated on the durable write: players see the
// outcome even when storage is degraded.
func (s *Session) afterFinish(snap Snapshot) {
	log.Info().
		Str("gameId", s.id).
		Str("winner", snap.WinnerID).
		Str("reason", snap.EndReason).
		Int("leftScore", snap.Left.Score).
		Int("rightScore", snap.Right.Score).
		Msg("match finished")

	s.pub.Publish(s.topic(), Event{Type: "game:end", Data: EndReport{
		GameID:     s.id,
		WinnerID:   snap.WinnerID,
		Reason:     snap.EndReason,
		LeftScore:  snap.Left.Score,
		RightScore: snap.Right.Score,
	}})

	s.commitResult(snap)

	if s.onFinish != nil {
		s.onFinish(s.id)
	}
}

// commitResult writes the terminal state, retrying once on failure.
// The store's idempotence guard makes an accidental duplicate harmless.
func (s *Session) commitResult(snap Snapshot) {
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		err := s.matches.RecordResult(ctx, s.id, snap.Left.Score, snap.Right.Score, snap.WinnerID)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("gameId", s.id).Int("attempt", attempt).Msg("record result")
	}
}

func (s *Session) slotFor(participantID string) *slot {
	switch participantID {
	case s.left.id:
		return &s.left
	case s.right.id:
		return &s.right
	}
	return nil
}

func (s *Session) topic() string { return "game:" + s.id }

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		GameID: s.id,
		Status: s.status,
		Left: PlayerView{
			ID:    s.left.id,
			Y:     round2(s.left.y),
			Score: s.left.score,
			Ready: s.left.ready,
		},
		Right: PlayerView{
			ID:    s.right.id,
			Y:     round2(s.right.y),
			Score: s.right.score,
			Ready: s.right.ready,
		},
		Ball: pong.Ball{
			X:  round2(s.ball.X),
			Y:  round2(s.ball.Y),
			DX: round2(s.ball.DX),
			DY: round2(s.ball.DY),
		},
		WinnerID:  s.winnerID,
		EndReason: s.reason,
	}
}
