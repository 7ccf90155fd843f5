// internal/match/registry.go
//
// Maps external match identifiers to live sessions.
// The one concurrency invariant the whole system leans on lives here:
// two near-simultaneous GetOrCreate calls for the same matchId must
// yield the same session instance. A race would mean two independent
// simulations publishing conflicting state for one match, so creation
// is insert-if-absent under a single mutex, participant fetch included.

package match

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/store"
)

// EvictionGrace is how long a finished session stays readable before
// removal, so late subscribers and spectators can still fetch the
// result.
const EvictionGrace = 60 * time.Second

// Registry owns the matchId → Session map. Constructed at server start
// and passed by reference to the gateway; there is no process-wide
// singleton.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	evicts   map[string]*time.Timer
	closed   bool

	matches store.Matches
	pub     Publisher
	grace   time.Duration
}

// NewRegistry constructs an empty registry.
func NewRegistry(matches store.Matches, pub Publisher) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		evicts:   make(map[string]*time.Timer),
		matches:  matches,
		pub:      pub,
		grace:    EvictionGrace,
	}
}

// GetOrCreate returns the live session for gameID, creating it on first
// use. Idempotent per gameID for the lifetime of the entry. Unknown
// gameIDs fail with store.ErrNotFound: a session is only ever created
// for a match the CRUD layer already recorded.
func (r *Registry) GetOrCreate(ctx context.Context, gameID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[gameID]; ok {
		return s, nil
	}
	if r.closed {
		return nil, ErrMatchFinished
	}

	s, err := NewSession(ctx, gameID, r.matches, r.pub, r.scheduleEviction)
	if err != nil {
		return nil, err
	}
	r.sessions[gameID] = s
	log.Info().Str("gameId", gameID).Msg("session created")
	return s, nil
}

// Get returns a live session without creating one.
func (r *Registry) Get(gameID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	return s, ok
}

// Remove evicts a session immediately, stopping its loop.
func (r *Registry) Remove(gameID string) {
	r.mu.Lock()
	s, ok := r.sessions[gameID]
	delete(r.sessions, gameID)
	if t, ok := r.evicts[gameID]; ok {
		t.Stop()
		delete(r.evicts, gameID)
	}
	r.mu.Unlock()

	if ok {
		s.Stop()
		log.Info().Str("gameId", gameID).Msg("session evicted")
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close drains the registry at shutdown: every loop stops, nothing new
// is created.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	for id, t := range r.evicts {
		t.Stop()
		delete(r.evicts, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

// scheduleEviction keeps a finished session readable for the grace
// window, then removes it. Non-terminal sessions are never evicted
// implicitly.
func (r *Registry) scheduleEviction(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, pending := r.evicts[gameID]; pending {
		return
	}
	r.evicts[gameID] = time.AfterFunc(r.grace, func() { r.Remove(gameID) })
}
