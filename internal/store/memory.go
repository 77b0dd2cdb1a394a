// Package store holds the authoritative in-memory session records. Two
// indexes: primary by session id, secondary mapping a user to their one
// active (non-completed) session. Construct one store per process and
// pass it by reference; tests build isolated instances per case.
package store

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/interview"
)

// Memory is a thread-safe session store. All getters return deep copies
// and all writers store deep copies, so callers never alias the
// authoritative record.
type Memory struct {
	mu           sync.RWMutex
	byID         map[string]*interview.Session
	activeByUser map[string]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		byID:         make(map[string]*interview.Session),
		activeByUser: make(map[string]string),
	}
}

// Create inserts the session and, unless it is already completed, makes
// it the user's active session. A prior active session for the same user
// is silently replaced (last writer wins, no conflict error).
func (m *Memory) Create(s *interview.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[s.ID] = s.Clone()
	if !s.Completed() {
		m.activeByUser[s.UserID] = s.ID
	}
}

// Save upserts the primary record and repairs the secondary index:
// a completed session loses its active pointer, any other session
// (re)gains it. UpdatedAt is touched as part of the commit.
func (m *Memory) Save(s *interview.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := s.Clone()
	c.UpdatedAt = time.Now().UTC()
	s.UpdatedAt = c.UpdatedAt
	m.byID[c.ID] = c

	if c.Completed() {
		if m.activeByUser[c.UserID] == c.ID {
			delete(m.activeByUser, c.UserID)
		}
	} else {
		m.activeByUser[c.UserID] = c.ID
	}
}

// GetByID returns a copy of the session, or nil when the id is unknown.
func (m *Memory) GetByID(id string) *interview.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id].Clone()
}

// GetActiveByUserID returns a copy of the user's active session, or nil
// when the user has none.
func (m *Memory) GetActiveByUserID(userID string) *interview.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.activeByUser[userID]
	if !ok {
		return nil
	}
	return m.byID[id].Clone()
}

// UpdateHeartbeat bumps only the heartbeat timestamp, deliberately
// bypassing Save's touch of UpdatedAt. Returns false when the id is
// unknown. Last write wins against a concurrent Save on the same record.
func (m *Memory) UpdateHeartbeat(id string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return false
	}
	s.LastHeartbeat = at
	return true
}

// Delete removes a session and its active pointer. Administrative and
// test use only; the lifecycle never deletes sessions.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return
	}
	if m.activeByUser[s.UserID] == id {
		delete(m.activeByUser, s.UserID)
	}
	delete(m.byID, id)
}
