// Package identitytest is a conformance suite for identity.Store implementations.
package identitytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/identity"
)

// Factory returns a new, empty store.
type Factory func(t *testing.T) identity.Store

// Run exercises every identity.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("FindBy", func(t *testing.T) { testFindBy(t, newStore(t)) })
	t.Run("CreateConflicts", func(t *testing.T) { testCreateConflicts(t, newStore(t)) })
	t.Run("UpdateMovesIndexes", func(t *testing.T) { testUpdateMovesIndexes(t, newStore(t)) })
	t.Run("UpdateConflictLeavesRecord", func(t *testing.T) { testUpdateConflict(t, newStore(t)) })
	t.Run("UpdateMutateError", func(t *testing.T) { testUpdateMutateError(t, newStore(t)) })
	t.Run("UpdateNotFound", func(t *testing.T) { testUpdateNotFound(t, newStore(t)) })
	t.Run("ProofIndex", func(t *testing.T) { testProofIndex(t, newStore(t)) })
	t.Run("ConcurrentSwapSingleWinner", func(t *testing.T) { testConcurrentSwap(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
}

// Fixture returns a local identity with times truncated to milliseconds.
func Fixture(id, handle, email string) *identity.Identity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &identity.Identity{
		ID:           id,
		Handle:       handle,
		Email:        email,
		FullName:     "Test " + handle,
		PasswordHash: "$2a$04$fixturefixturefixturefixtureuO2V0Gx6Gd7rYpLP2Gm",
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testCreateAndGet(t *testing.T, s identity.Store) {
	ctx := context.Background()
	in := Fixture("u1", "alice", "alice@x.test")
	in.EmailVerification = identity.Proof{
		Digest:    "abc",
		IssuedAt:  in.CreatedAt,
		ExpiresAt: in.CreatedAt.Add(20 * time.Minute),
	}
	require.NoError(t, s.Create(ctx, in))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, in.Equal(got), "stored %+v, got %+v", in, got)

	got.FullName = "mutated"
	again, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, in.FullName, again.FullName, "store must not share memory with callers")

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func testFindBy(t *testing.T, s identity.Store) {
	ctx := context.Background()
	in := Fixture("u1", "alice", "alice@x.test")
	in.Provider = "google"
	in.ProviderSubject = "sub-1"
	require.NoError(t, s.Create(ctx, in))

	for _, tc := range []struct {
		field identity.Field
		value string
	}{
		{identity.FieldEmail, "alice@x.test"},
		{identity.FieldEmail, "Alice@X.test"},
		{identity.FieldHandle, "alice"},
		{identity.FieldSubject, identity.SubjectKey("google", "sub-1")},
	} {
		got, err := s.FindBy(ctx, tc.field, tc.value)
		require.NoError(t, err, "%s=%s", tc.field, tc.value)
		require.Equal(t, "u1", got.ID)
	}

	_, err := s.FindBy(ctx, identity.FieldHandle, "bob")
	require.ErrorIs(t, err, identity.ErrNotFound)
	_, err = s.FindBy(ctx, identity.FieldSubject, identity.SubjectKey("github", "sub-1"))
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func testCreateConflicts(t *testing.T, s identity.Store) {
	ctx := context.Background()
	first := Fixture("u1", "alice", "alice@x.test")
	first.Provider, first.ProviderSubject = "google", "sub-1"
	require.NoError(t, s.Create(ctx, first))

	cases := map[identity.Field]*identity.Identity{
		identity.FieldEmail:  Fixture("u2", "other", "ALICE@x.test"),
		identity.FieldHandle: Fixture("u3", "alice", "other@x.test"),
	}
	fed := Fixture("u4", "", "fed@x.test")
	fed.Provider, fed.ProviderSubject = "google", "sub-1"
	cases[identity.FieldSubject] = fed

	for field, ident := range cases {
		err := s.Create(ctx, ident)
		require.ErrorIs(t, err, identity.ErrConflict, field)
		var conflict *identity.ConflictError
		require.True(t, errors.As(err, &conflict))
		require.Equal(t, field, conflict.Field)

		_, err = s.Get(ctx, ident.ID)
		require.ErrorIs(t, err, identity.ErrNotFound, "conflicting create must not persist")
	}

	require.NoError(t, s.Create(ctx, Fixture("u5", "", "nohandle1@x.test")))
	require.NoError(t, s.Create(ctx, Fixture("u6", "", "nohandle2@x.test")), "empty handles are not unique")
}

func testUpdateMovesIndexes(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("u1", "alice", "alice@x.test")))

	updated, err := s.Update(ctx, "u1", func(ident *identity.Identity) error {
		ident.Email = "alice2@x.test"
		ident.Handle = "alice2"
		ident.EmailVerified = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "alice2@x.test", updated.Email)
	require.True(t, updated.EmailVerified)

	_, err = s.FindBy(ctx, identity.FieldEmail, "alice@x.test")
	require.ErrorIs(t, err, identity.ErrNotFound)
	_, err = s.FindBy(ctx, identity.FieldHandle, "alice")
	require.ErrorIs(t, err, identity.ErrNotFound)

	got, err := s.FindBy(ctx, identity.FieldHandle, "alice2")
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)

	require.NoError(t, s.Create(ctx, Fixture("u2", "alice", "alice@x.test")), "released values are reusable")
}

func testUpdateConflict(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("u1", "alice", "alice@x.test")))
	require.NoError(t, s.Create(ctx, Fixture("u2", "bob", "bob@x.test")))

	_, err := s.Update(ctx, "u2", func(ident *identity.Identity) error {
		ident.FullName = "Bob Changed"
		ident.Email = "alice@x.test"
		return nil
	})
	var conflict *identity.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	require.Equal(t, identity.FieldEmail, conflict.Field)

	got, err := s.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "bob@x.test", got.Email)
	require.Equal(t, "Test bob", got.FullName)
}

func testUpdateMutateError(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("u1", "alice", "alice@x.test")))

	sentinel := errors.New("abort")
	_, err := s.Update(ctx, "u1", func(ident *identity.Identity) error {
		ident.FullName = "should not persist"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Test alice", got.FullName)

	same, err := s.Update(ctx, "u1", func(*identity.Identity) error { return nil })
	require.NoError(t, err)
	require.True(t, got.Equal(same), "no-op update must return the current record")
}

func testUpdateNotFound(t *testing.T, s identity.Store) {
	called := false
	_, err := s.Update(context.Background(), "missing", func(*identity.Identity) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, identity.ErrNotFound)
	require.False(t, called)
}

func testProofIndex(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("u1", "alice", "alice@x.test")))
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.Update(ctx, "u1", func(ident *identity.Identity) error {
		ident.PasswordReset = identity.Proof{Digest: "reset-1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindByProof(ctx, identity.ProofPasswordReset, "reset-1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)
	require.True(t, got.PasswordReset.ExpiresAt.Equal(now.Add(time.Minute)))

	_, err = s.FindByProof(ctx, identity.ProofEmailVerification, "reset-1")
	require.ErrorIs(t, err, identity.ErrNotFound, "digest index is per kind")

	_, err = s.Update(ctx, "u1", func(ident *identity.Identity) error {
		ident.PasswordReset = identity.Proof{Digest: "reset-2", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
		return nil
	})
	require.NoError(t, err)
	_, err = s.FindByProof(ctx, identity.ProofPasswordReset, "reset-1")
	require.ErrorIs(t, err, identity.ErrNotFound, "re-issuance drops the old digest")

	_, err = s.Update(ctx, "u1", func(ident *identity.Identity) error {
		ident.PasswordReset = identity.Proof{}
		return nil
	})
	require.NoError(t, err)
	_, err = s.FindByProof(ctx, identity.ProofPasswordReset, "reset-2")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func testConcurrentSwap(t *testing.T, s identity.Store) {
	ctx := context.Background()
	seed := Fixture("u1", "alice", "alice@x.test")
	seed.RefreshDigest = "d0"
	require.NoError(t, s.Create(ctx, seed))

	const workers = 16
	errLost := errors.New("lost")
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.Update(ctx, "u1", func(ident *identity.Identity) error {
				if ident.RefreshDigest != "d0" {
					return errLost
				}
				ident.RefreshDigest = fmt.Sprintf("d%d", i+1)
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, errLost):
				losers++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 1, winners)
	require.Equal(t, workers-1, losers)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotEqual(t, "d0", got.RefreshDigest)
}

func testDelete(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("u1", "alice", "alice@x.test")))
	require.NoError(t, s.Delete(ctx, "u1"))
	require.NoError(t, s.Delete(ctx, "u1"), "delete is idempotent")

	_, err := s.Get(ctx, "u1")
	require.ErrorIs(t, err, identity.ErrNotFound)
	_, err = s.FindBy(ctx, identity.FieldEmail, "alice@x.test")
	require.ErrorIs(t, err, identity.ErrNotFound)
	require.NoError(t, s.Create(ctx, Fixture("u2", "alice", "alice@x.test")))
}
