package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps the journal in memory. It is used when no database is
// configured and in tests.
type MemStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	entries  map[uuid.UUID][]Entry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[uuid.UUID]Session),
		entries:  make(map[uuid.UUID][]Entry),
	}
}

// StartSession implements [Store].
func (m *MemStore) StartSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("journal: session %s already started", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

// EndSession implements [Store].
func (m *MemStore) EndSession(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("journal: unknown session %s", id)
	}
	s.EndedAt = at
	m.sessions[id] = s
	return nil
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[e.SessionID]; !ok {
		return fmt.Errorf("journal: unknown session %s", e.SessionID)
	}
	m.entries[e.SessionID] = append(m.entries[e.SessionID], e)
	return nil
}

// Entries implements [Store].
func (m *MemStore) Entries(_ context.Context, sessionID uuid.UUID) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries[sessionID]...), nil
}

// Session returns the stored session record.
func (m *MemStore) Session(id uuid.UUID) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close implements [Store].
func (m *MemStore) Close() {}
