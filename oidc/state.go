package oidc

import (
	"context"
	"sync"
	"time"
)

// ExchangeState guards one federation attempt. It is keyed by State and must be
// taken at most once.
type ExchangeState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StateStore persists exchange states between Start and Callback.
//
// Take must remove the entry atomically so a state can be redeemed only once, and
// must return ErrStateNotFound for unknown or expired states.
type StateStore interface {
	Save(ctx context.Context, st ExchangeState, ttl time.Duration) error
	Take(ctx context.Context, state string) (ExchangeState, error)
}

type memoryEntry struct {
	st        ExchangeState
	expiresAt time.Time
}

// MemoryStateStore keeps exchange states in process memory. Expired entries are
// swept on Save.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStateStore returns an empty store. now may be nil.
func NewMemoryStateStore(now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryStateStore) Save(_ context.Context, st ExchangeState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[st.State] = memoryEntry{st: st, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (ExchangeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state]
	if !ok {
		return ExchangeState{}, ErrStateNotFound
	}
	delete(s.entries, state)
	if !s.now().Before(e.expiresAt) {
		return ExchangeState{}, ErrStateNotFound
	}
	return e.st, nil
}

// Len returns the number of stored states, expired ones included.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
