package user

import (
	"context"
	"sync"

	"github.com/warp/lending-engine/loan"
)

// MemoryStore is a map-backed Store for tests and demo wiring.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[loan.UserID]*User
	byEmail map[string]loan.UserID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[loan.UserID]*User),
		byEmail: make(map[string]loan.UserID),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return &loan.ValidationError{Field: "email", Message: "email is already registered"}
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id loan.UserID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, loan.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, loan.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return loan.ErrNotFound
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}
