package session

import (
	"context"
	"sync"

	"github.com/vitwit/stablepay/types"
)

// Store persists payment sessions. Implementations must hand out copies:
// callers never share a *PaymentSession with the store.
type Store interface {
	Create(ctx context.Context, s *types.PaymentSession) error
	Get(ctx context.Context, id string) (*types.PaymentSession, error)
	// Update applies fn to a copy of the session and saves it only when fn
	// returns nil. The saved copy is returned.
	Update(ctx context.Context, id string, fn func(*types.PaymentSession) error) (*types.PaymentSession, error)
}

// MemoryStore keeps sessions in a map guarded by a RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.PaymentSession
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*types.PaymentSession)}
}

func (m *MemoryStore) Create(_ context.Context, s *types.PaymentSession) error {
	if s == nil || s.ID == "" {
		return types.NewError(types.ErrInputValidation, "session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return types.NewError(types.ErrInvalidState, "session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*types.PaymentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, types.NewError(types.ErrSessionNotFound, "session %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*types.PaymentSession) error) (*types.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, types.NewError(types.ErrSessionNotFound, "session %s not found", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

// Len returns the number of stored sessions, deleted ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
