// Package memstore is an in-process identity.Store. Updates run under a single
// mutex, so compare-and-swap never contends.
package memstore

import (
	"context"
	"sync"

	"github.com/MrEthical07/authcore/identity"
)

// Store keeps identities in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]*identity.Identity
	index   map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*identity.Identity),
		index:   make(map[string]string),
	}
}

var _ identity.Store = (*Store)(nil)

func (s *Store) Create(_ context.Context, ident *identity.Identity) error {
	if ident == nil || ident.ID == "" || ident.Email == "" {
		return identity.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[ident.ID]; ok {
		return &identity.ConflictError{Field: identity.FieldID}
	}
	keys := identity.IndexKeys(ident)
	if err := s.checkFree(keys, ""); err != nil {
		return err
	}
	rec := ident.Clone()
	s.records[rec.ID] = rec
	for _, k := range keys {
		s.index[k.Key] = rec.ID
	}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) FindBy(ctx context.Context, field identity.Field, value string) (*identity.Identity, error) {
	return s.lookup(ctx, identity.LookupKey(field, value))
}

func (s *Store) FindByProof(ctx context.Context, kind identity.ProofKind, digest string) (*identity.Identity, error) {
	return s.lookup(ctx, identity.ProofLookupKey(kind, digest))
}

func (s *Store) Update(_ context.Context, id string, mutate func(*identity.Identity) error) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	if next.Equal(cur) {
		return cur.Clone(), nil
	}

	oldKeys, newKeys := identity.IndexKeys(cur), identity.IndexKeys(next)
	if err := s.checkFree(newKeys, id); err != nil {
		return nil, err
	}
	for _, k := range oldKeys {
		delete(s.index, k.Key)
	}
	for _, k := range newKeys {
		s.index[k.Key] = id
	}
	s.records[id] = next
	return next.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return nil
	}
	for _, k := range identity.IndexKeys(cur) {
		delete(s.index, k.Key)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) lookup(_ context.Context, key string) (*identity.Identity, error) {
	if key == "" {
		return nil, identity.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.index[key]
	if !ok {
		return nil, identity.ErrNotFound
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) checkFree(keys []identity.IndexKey, owner string) error {
	for _, k := range keys {
		if holder, ok := s.index[k.Key]; ok && holder != owner {
			return &identity.ConflictError{Field: k.Field}
		}
	}
	return nil
}
