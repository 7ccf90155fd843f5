package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/server/internal/pong"
	"github.com/pongarena/server/internal/store"
)

// capturePub records published events for assertions.
type capturePub struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePub) Publish(topic string, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePub) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T) (*Session, *store.Memory, *capturePub) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddMatch("g1", "alice", "bob")
	pub := &capturePub{}
	s, err := NewSession(context.Background(), "g1", mem, pub, nil)
	require.NoError(t, err)
	return s, mem, pub
}

// startPlaying readies both slots and then halts the real ticker so
// tests can drive tick() deterministically.
func startPlaying(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Ready("alice"))
	require.NoError(t, s.Ready("bob"))
	require.Equal(t, StatusPlaying, s.Status())
	s.Stop()
}

func TestNewSession_UnknownMatch(t *testing.T) {
	mem := store.NewMemory()
	_, err := NewSession(context.Background(), "nope", mem, &capturePub{}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSession_MirrorsWaitingStatus(t *testing.T) {
	s, mem, _ := newTestSession(t)
	assert.Equal(t, StatusWaiting, s.Status())
	assert.Equal(t, store.StatusWaiting, mem.StatusFor("g1"))
}

func TestJoin(t *testing.T) {
	s, _, _ := newTestSession(t)

	snap, err := s.Join("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Left.ID)
	assert.Equal(t, "bob", snap.Right.ID)

	_, err = s.Join("mallory")
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

// Scenario: both slots ready up. The match must transition
// waiting → playing exactly once and fire exactly one game:start.
func TestReady_StartsMatchOnce(t *testing.T) {
	s, mem, pub := newTestSession(t)

	require.NoError(t, s.Ready("alice"))
	assert.Equal(t, StatusWaiting, s.Status(), "one ready is not enough")
	assert.Equal(t, 1, pub.count("game:state"), "state change while waiting is broadcast")

	require.NoError(t, s.Ready("bob"))
	s.Stop()

	assert.Equal(t, StatusPlaying, s.Status())
	assert.Equal(t, 1, pub.count("game:start"))
	assert.Equal(t, store.StatusPlaying, mem.StatusFor("g1"))

	assert.ErrorIs(t, s.Ready("alice"), ErrAlreadyPlaying)
}

func TestReady_Rejections(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.ErrorIs(t, s.Ready("mallory"), ErrNotAParticipant)
}

// Scenario: a slot reaches the win threshold. The match finishes with
// reason=score, the result is committed once, and no later tick
// mutates state.
func TestTick_WinByScore(t *testing.T) {
	s, mem, pub := newTestSession(t)
	startPlaying(t, s)

	s.mu.Lock()
	s.left.score = pong.PointsToWin - 1
	s.ball = pong.Ball{X: pong.CourtWidth - 1, Y: 300, DX: pong.BallSpeed, DY: 0}
	s.right.y = 500 // parked away from the ball
	now := s.lastTick.Add(pong.TickInterval)
	s.mu.Unlock()

	s.tick(now)

	snap := s.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, "alice", snap.WinnerID)
	assert.Equal(t, ReasonScore, snap.EndReason)
	assert.Equal(t, pong.PointsToWin, snap.Left.Score)
	assert.Equal(t, 1, pub.count("game:end"))

	res, ok := mem.ResultFor("g1")
	require.True(t, ok)
	assert.Equal(t, store.Result{LeftScore: pong.PointsToWin, RightScore: 0, WinnerID: "alice"}, res)
	assert.Equal(t, 1, mem.WriteAttempts("g1"))

	// Post-terminal ticks are inert.
	s.tick(now.Add(pong.TickInterval))
	assert.Equal(t, snap, s.Snapshot())
	assert.Equal(t, 1, pub.count("game:end"))
}

// Scenario: a participant in a playing match disconnects. The remaining
// player wins immediately with reason=disconnect.
func TestDisconnect_Forfeits(t *testing.T) {
	s, mem, pub := newTestSession(t)
	startPlaying(t, s)

	s.Disconnect("bob")

	snap := s.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, "alice", snap.WinnerID)
	assert.Equal(t, ReasonDisconnect, snap.EndReason)
	assert.Equal(t, 1, pub.count("game:end"))

	res, ok := mem.ResultFor("g1")
	require.True(t, ok)
	assert.Equal(t, "alice", res.WinnerID)

	// Forfeit and score-win are mutually exclusive: a tick after the
	// forfeit resolves nothing further.
	s.tick(time.Now())
	assert.Equal(t, 1, pub.count("game:end"))
	assert.Equal(t, 1, mem.WriteAttempts("g1"))
}

func TestDisconnect_NoOpWhileWaiting(t *testing.T) {
	s, mem, pub := newTestSession(t)

	s.Disconnect("alice")

	assert.Equal(t, StatusWaiting, s.Status())
	assert.Equal(t, 0, pub.count("game:end"))
	_, ok := mem.ResultFor("g1")
	assert.False(t, ok)
}

// Scenario: input from an identity holding no slot is ignored and state
// is untouched.
func TestApplyInput_NonParticipantIgnored(t *testing.T) {
	s, _, _ := newTestSession(t)
	startPlaying(t, s)

	before := s.Snapshot()
	assert.ErrorIs(t, s.ApplyInput("mallory", 1), ErrNotAParticipant)
	assert.Equal(t, before, s.Snapshot())
}

func TestApplyInput_RejectedUnlessPlaying(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.ErrorIs(t, s.ApplyInput("alice", 1), ErrNotPlaying, "waiting matches accept no input")
}

func TestApplyInput_BufferedAndConsumedPerTick(t *testing.T) {
	s, _, _ := newTestSession(t)
	startPlaying(t, s)

	startY := s.Snapshot().Left.Y

	// Last write wins: the -1 overwrites the +1 before the tick lands.
	require.NoError(t, s.ApplyInput("alice", 1))
	require.NoError(t, s.ApplyInput("alice", -1))

	s.mu.Lock()
	now := s.lastTick.Add(pong.TickInterval)
	s.mu.Unlock()
	s.tick(now)

	moved := s.Snapshot().Left.Y
	assert.Equal(t, startY-pong.PaddleSpeed, moved)

	// Consumed: with no fresh input the next tick leaves the paddle put.
	s.tick(now.Add(pong.TickInterval))
	assert.Equal(t, moved, s.Snapshot().Left.Y)
}

func TestSnapshot_IsACopy(t *testing.T) {
	s, _, _ := newTestSession(t)
	snap := s.Snapshot()
	snap.Left.Score = 99
	assert.Equal(t, 0, s.Snapshot().Left.Score, "mutating a snapshot never touches the session")
}
