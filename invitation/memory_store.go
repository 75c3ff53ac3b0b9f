package invitation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory invitation Store for tests and development.
type MemoryStore struct {
	mu           sync.RWMutex
	byEmail      map[string]map[string]Invitation // email -> resourceID -> invitation
	tokenByEmail map[string]string
	emailByToken map[string]string
}

// NewMemoryStore creates an empty in-memory invitation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail:      make(map[string]map[string]Invitation),
		tokenByEmail: make(map[string]string),
		emailByToken: make(map[string]string),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byEmail[inv.Email] == nil {
		s.byEmail[inv.Email] = make(map[string]Invitation)
	}
	s.byEmail[inv.Email][inv.ResourceID] = inv
	return nil
}

func (s *MemoryStore) ByEmail(ctx context.Context, email string) ([]Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Invitation, 0, len(s.byEmail[email]))
	for _, inv := range s.byEmail[email] {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, resourceID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byEmail[email], resourceID)
	if len(s.byEmail[email]) == 0 {
		delete(s.byEmail, email)
	}
	return nil
}

func (s *MemoryStore) Token(ctx context.Context, email string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokenByEmail[email], nil
}

func (s *MemoryStore) SetToken(ctx context.Context, email, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tokenByEmail[email]; ok {
		delete(s.emailByToken, old)
	}
	s.tokenByEmail[email] = token
	s.emailByToken[token] = email
	return nil
}

func (s *MemoryStore) EmailByToken(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.emailByToken[token], nil
}

func (s *MemoryStore) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if email, ok := s.emailByToken[token]; ok {
		delete(s.tokenByEmail, email)
		delete(s.emailByToken, token)
	}
	return nil
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
