// internal/store/memory.go
//
// In-memory implementation of the Matches interface.
// Used by session and gateway tests, where durability is irrelevant and
// the interesting assertions are about what the engine writes and how
// often. Concurrency-safe via RWMutex.

package store

import (
	"context"
	"sync"
)

type memoryMatch struct {
	leftID  string
	rightID string
	status  string
}

// Result is a recorded terminal outcome.
type Result struct {
	LeftScore  int
	RightScore int
	WinnerID   string
}

// Memory is a map-backed Matches implementation.
type Memory struct {
	mu      sync.RWMutex
	matches map[string]*memoryMatch
	results map[string]Result
	writes  map[string]int // RecordResult attempts per game, idempotent or not
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		matches: make(map[string]*memoryMatch),
		results: make(map[string]Result),
		writes:  make(map[string]int),
	}
}

// AddMatch registers a game with its two authorized slot identities.
func (m *Memory) AddMatch(gameID, leftID, rightID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[gameID] = &memoryMatch{leftID: leftID, rightID: rightID, status: StatusPending}
}

// MatchParticipants implements Matches.
func (m *Memory) MatchParticipants(ctx context.Context, gameID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm, ok := m.matches[gameID]
	if !ok {
		return "", "", ErrNotFound
	}
	return mm.leftID, mm.rightID, nil
}

// MarkLive implements Matches.
func (m *Memory) MarkLive(ctx context.Context, gameID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.matches[gameID]
	if !ok {
		return ErrNotFound
	}
	if mm.status != StatusFinished {
		mm.status = status
	}
	return nil
}

// RecordResult implements Matches. Idempotent on gameID: only the
// first call stores anything.
func (m *Memory) RecordResult(ctx context.Context, gameID string, leftScore, rightScore int, winnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[gameID]++
	if _, done := m.results[gameID]; done {
		return nil
	}
	m.results[gameID] = Result{LeftScore: leftScore, RightScore: rightScore, WinnerID: winnerID}
	if mm, ok := m.matches[gameID]; ok {
		mm.status = StatusFinished
	}
	return nil
}

// ResultFor returns the stored terminal outcome, if any.
func (m *Memory) ResultFor(gameID string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[gameID]
	return r, ok
}

// StatusFor returns the mirrored lifecycle status.
func (m *Memory) StatusFor(gameID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mm, ok := m.matches[gameID]; ok {
		return mm.status
	}
	return ""
}

// WriteAttempts counts RecordResult calls for a game.
func (m *Memory) WriteAttempts(gameID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[gameID]
}
