// Package redisstore persists identities and federation exchange state in Redis.
//
// Each identity is one versioned record under "<prefix>:u:<id>". Unique lookups
// are string keys under "<prefix>:ix:" holding the owning id. Updates are
// WATCH/MULTI transactions over the record and every index key they claim.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/identity"
)

const (
	recordFormatVersion = 1
	maxTxRetries        = 16
)

var errCorruptRecord = errors.New("redisstore: corrupt identity record")

// Store is an identity.Store backed by Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ identity.Store = (*Store)(nil)

// New returns a Store using keys under prefix. An empty prefix defaults to "idn".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "idn"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) recordKey(id string) string { return s.prefix + ":u:" + id }

func (s *Store) indexKey(key string) string { return s.prefix + ":ix:" + key }

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	if ident == nil || ident.ID == "" || ident.Email == "" {
		return identity.ErrInvalid
	}
	payload, err := encodeIdentity(ident)
	if err != nil {
		return err
	}
	recKey := s.recordKey(ident.ID)
	index := identity.IndexKeys(ident)
	watched := make([]string, 0, len(index)+1)
	watched = append(watched, recKey)
	for _, k := range index {
		watched = append(watched, s.indexKey(k.Key))
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, recKey).Result()
			if err != nil {
				return unavailable(err)
			}
			if n > 0 {
				return &identity.ConflictError{Field: identity.FieldID}
			}
			for _, k := range index {
				n, err := tx.Exists(ctx, s.indexKey(k.Key)).Result()
				if err != nil {
					return unavailable(err)
				}
				if n > 0 {
					return &identity.ConflictError{Field: k.Field}
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recKey, payload, 0)
				for _, k := range index {
					pipe.Set(ctx, s.indexKey(k.Key), ident.ID, 0)
				}
				return nil
			})
			return err
		}, watched...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return s.classify(err)
	}
	return identity.ErrContention
}

func (s *Store) Get(ctx context.Context, id string) (*identity.Identity, error) {
	return s.read(ctx, s.redis, id)
}

func (s *Store) FindBy(ctx context.Context, field identity.Field, value string) (*identity.Identity, error) {
	return s.lookup(ctx, identity.LookupKey(field, value))
}

func (s *Store) FindByProof(ctx context.Context, kind identity.ProofKind, digest string) (*identity.Identity, error) {
	return s.lookup(ctx, identity.ProofLookupKey(kind, digest))
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*identity.Identity) error) (*identity.Identity, error) {
	recKey := s.recordKey(id)

	for i := 0; i < maxTxRetries; i++ {
		var (
			result    *identity.Identity
			mutateErr error
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.read(ctx, tx, id)
			if err != nil {
				return err
			}
			next := cur.Clone()
			if err := mutate(next); err != nil {
				mutateErr = err
				return err
			}
			next.ID = cur.ID
			if next.Equal(cur) {
				result = cur
				return nil
			}

			released, claimed := diffKeys(identity.IndexKeys(cur), identity.IndexKeys(next))
			if len(claimed) > 0 {
				keys := make([]string, len(claimed))
				for j, k := range claimed {
					keys[j] = s.indexKey(k.Key)
				}
				if err := tx.Watch(ctx, keys...).Err(); err != nil {
					return unavailable(err)
				}
				for j, k := range claimed {
					owner, err := tx.Get(ctx, keys[j]).Result()
					switch {
					case errors.Is(err, redis.Nil):
					case err != nil:
						return unavailable(err)
					case owner != id:
						return &identity.ConflictError{Field: k.Field}
					}
				}
			}

			payload, err := encodeIdentity(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recKey, payload, 0)
				for _, k := range released {
					pipe.Del(ctx, s.indexKey(k.Key))
				}
				for _, k := range claimed {
					pipe.Set(ctx, s.indexKey(k.Key), id, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, recKey)

		if mutateErr != nil {
			return nil, mutateErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, s.classify(err)
		}
		return result, nil
	}
	return nil, identity.ErrContention
}

func (s *Store) Delete(ctx context.Context, id string) error {
	recKey := s.recordKey(id)
	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.read(ctx, tx, id)
			if errors.Is(err, identity.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, recKey)
				for _, k := range identity.IndexKeys(cur) {
					pipe.Del(ctx, s.indexKey(k.Key))
				}
				return nil
			})
			return err
		}, recKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return s.classify(err)
	}
	return identity.ErrContention
}

func (s *Store) lookup(ctx context.Context, key string) (*identity.Identity, error) {
	if key == "" {
		return nil, identity.ErrNotFound
	}
	id, err := s.redis.Get(ctx, s.indexKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	ident, err := s.read(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	// The index may have moved between the two reads.
	for _, k := range identity.IndexKeys(ident) {
		if k.Key == key {
			return ident, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, id string) (*identity.Identity, error) {
	data, err := c.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeIdentity(data)
}

func (s *Store) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNotFound),
		errors.Is(err, identity.ErrConflict),
		errors.Is(err, identity.ErrUnavailable),
		errors.Is(err, errCorruptRecord):
		return err
	default:
		return unavailable(err)
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
}

func diffKeys(old, next []identity.IndexKey) (released, claimed []identity.IndexKey) {
	inOld := make(map[string]struct{}, len(old))
	for _, k := range old {
		inOld[k.Key] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, k := range next {
		inNext[k.Key] = struct{}{}
		if _, ok := inOld[k.Key]; !ok {
			claimed = append(claimed, k)
		}
	}
	for _, k := range old {
		if _, ok := inNext[k.Key]; !ok {
			released = append(released, k)
		}
	}
	return released, claimed
}

func encodeIdentity(ident *identity.Identity) ([]byte, error) {
	body, err := json.Marshal(ident)
	if err != nil {
		return nil, fmt.Errorf("redisstore: encode identity: %w", err)
	}
	return append([]byte{recordFormatVersion}, body...), nil
}

func decodeIdentity(data []byte) (*identity.Identity, error) {
	if len(data) < 2 || data[0] != recordFormatVersion {
		return nil, errCorruptRecord
	}
	var ident identity.Identity
	if err := json.Unmarshal(data[1:], &ident); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	return &ident, nil
}
