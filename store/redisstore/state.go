package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/oidc"
)

// ErrStateUnavailable wraps Redis failures while saving or taking state.
var ErrStateUnavailable = errors.New("redisstore: state store unavailable")

// StateStore keeps federation exchange state with a Redis TTL. Take uses
// GETDEL, so a state is redeemable once across every process sharing the server.
type StateStore struct {
	redis  redis.UniversalClient
	prefix string
}

var _ oidc.StateStore = (*StateStore)(nil)

// NewStateStore returns a StateStore under prefix, "oidc" when empty.
func NewStateStore(client redis.UniversalClient, prefix string) *StateStore {
	if prefix == "" {
		prefix = "oidc"
	}
	return &StateStore{redis: client, prefix: prefix}
}

func (s *StateStore) key(state string) string { return s.prefix + ":st:" + state }

func (s *StateStore) Save(ctx context.Context, st oidc.ExchangeState, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("redisstore: state ttl must be positive")
	}
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(st.State), body, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return nil
}

func (s *StateStore) Take(ctx context.Context, state string) (oidc.ExchangeState, error) {
	body, err := s.redis.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return oidc.ExchangeState{}, oidc.ErrStateNotFound
	}
	if err != nil {
		return oidc.ExchangeState{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	var st oidc.ExchangeState
	if err := json.Unmarshal(body, &st); err != nil {
		return oidc.ExchangeState{}, oidc.ErrStateNotFound
	}
	return st, nil
}
