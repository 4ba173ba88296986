package session

import (
	"context"
	"encoding/json"
	"sync"
)

// MockStore is an in-memory Store for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// SaveErr, when set, is returned by Save to simulate durable-tier
	// failures.
	SaveErr error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*Session)}
}

func (m *MockStore) Create(ctx context.Context, ticker string, seedContext json.RawMessage) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &Session{
		ID:          NewSessionID(ticker),
		Ticker:      ticker,
		SeedContext: seedContext,
		History:     []Turn{},
	}
	m.sessions[session.ID] = cloneSession(session)
	return session, nil
}

func (m *MockStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MockStore) Save(ctx context.Context, session *Session) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MockStore) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Put seeds the mock with a session directly.
func (m *MockStore) Put(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cloneSession(session)
}

// HistoryLen returns the stored history length for a session, or -1 if
// the session does not exist.
func (m *MockStore) HistoryLen(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return -1
	}
	return len(session.History)
}

// cloneSession copies through JSON so callers cannot mutate stored
// state in place.
func cloneSession(s *Session) *Session {
	data, err := json.Marshal(s)
	if err != nil {
		copied := *s
		return &copied
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		copied := *s
		return &copied
	}
	return &out
}

var _ Store = (*MockStore)(nil)
