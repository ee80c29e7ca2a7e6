package session

import (
	"sync"

	"github.com/google/uuid"
)

// Manager tracks live sessions by ID. Sessions live for the life of the
// process; callers that want a fresh conversation either delete theirs or
// omit the session ID and get a new one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  func() *Session
}

// NewManager creates a Manager that builds sessions with factory.
func NewManager(factory func() *Session) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

// GetOrCreate returns the session with the given ID, creating it if
// missing. An empty ID allocates a fresh session under a new UUID. The
// returned ID is always the session's actual ID.
func (m *Manager) GetOrCreate(id string) (*Session, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	s, ok := m.sessions[id]
	if !ok {
		s = m.factory()
		m.sessions[id] = s
	}
	return s, id
}

// Get returns the session with the given ID, or false if it does not exist.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Detached builds a session that is not registered with the manager.
// Used for one-off queries that must not leave state behind.
func (m *Manager) Detached() *Session {
	return m.factory()
}

// Delete removes the session with the given ID, reporting whether it existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
