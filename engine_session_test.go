package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/store/memstore"
)

func TestLoginByHandleAndEmail(t *testing.T) {
	engine := newTestEngine(t)
	user := registerVerified(t, engine, "alice", "Alice@X.test")
	ctx := context.Background()

	for _, identifier := range []string{"alice", "alice@x.test", "  ALICE@x.test "} {
		res, err := engine.Login(ctx, identifier, testPassword)
		if err != nil {
			t.Fatalf("login %q: %v", identifier, err)
		}
		if res.User.ID != user.ID {
			t.Fatalf("expected user %s, got %s", user.ID, res.User.ID)
		}
		if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
			t.Fatalf("expected a full token pair")
		}
	}
}

func TestLoginFailures(t *testing.T) {
	engine := newTestEngine(t)
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	if _, err := engine.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if _, err := engine.Login(ctx, "nobody", testPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.Login(ctx, "", testPassword); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := engine.Login(ctx, "Alice", testPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("handles are case-sensitive, expected ErrNotFound, got %v", err)
	}
}

func TestLoginRequiresVerifiedEmailAfterPassword(t *testing.T) {
	engine := newTestEngine(t, func(b *Builder) { b.WithMetricsEnabled(true) })
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Handle: "bob", Email: "bob@x.test", Password: testPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Login(ctx, "bob", "wrong-password"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword before the verification gate, got %v", err)
	}
	if _, err := engine.Login(ctx, "bob", testPassword); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginUnverified]; got != 1 {
		t.Fatalf("expected MetricLoginUnverified=1 got %d", got)
	}
}

func TestLoginWithoutVerificationGate(t *testing.T) {
	cfg := testConfig()
	cfg.Account.RequireVerifiedEmail = false
	engine := newTestEngine(t, func(b *Builder) { b.WithConfig(cfg) })
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Handle: "bob", Email: "bob@x.test", Password: testPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Login(ctx, "bob", testPassword); err != nil {
		t.Fatalf("expected login without verification, got %v", err)
	}
}

func TestValidateAccess(t *testing.T) {
	env := newTestEnv(t)
	user := registerVerified(t, env.engine, "alice", "alice@x.test")

	res, err := env.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := env.engine.ValidateAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != "user" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("expected expiry at access TTL, got %v", claims.ExpiresAt)
	}

	if _, err := env.engine.ValidateAccess(res.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token must not validate as access token, got %v", err)
	}
	if _, err := env.engine.ValidateAccess("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.ValidateAccess(res.Tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token must not validate, got %v", err)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	engine := newTestEngine(t, func(b *Builder) { b.WithMetricsEnabled(true) })
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	first, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := engine.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatalf("expected a rotated refresh token")
	}

	if _, err := engine.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	if _, err := engine.Refresh(ctx, second.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reuse must revoke the current token too, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReuseDetected] != 2 {
		t.Fatalf("expected 2 reuse detections, got %d", snap.Counters[MetricRefreshReuseDetected])
	}
	if snap.Counters[MetricSessionRevoked] != 1 {
		t.Fatalf("expected 1 revocation, got %d", snap.Counters[MetricSessionRevoked])
	}

	if _, err := engine.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("sign in after reuse: %v", err)
	}
}

func TestRefreshRejectsInvalidTokens(t *testing.T) {
	env := newTestEnv(t)
	registerVerified(t, env.engine, "alice", "alice@x.test")
	ctx := context.Background()

	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}

	res, err := env.engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}

	env.clock.Advance(8 * 24 * time.Hour)
	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired refresh token, expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshUnknownIdentity(t *testing.T) {
	store := &deletingStore{Store: memstore.New()}
	engine := newTestEngine(t, func(b *Builder) { b.WithIdentityStore(store) })
	registerVerified(t, engine, "alice", "alice@x.test")

	res, err := engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	store.gone.Store(true)

	if _, err := engine.Refresh(context.Background(), res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	engine := newTestEngine(t)
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		reuse   int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(ctx, res.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrRefreshReuse):
				reuse++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if reuse != workers-1 {
		t.Fatalf("expected %d reuse detections, got %d", workers-1, reuse)
	}
}

func TestLogoutRevokesRefresh(t *testing.T) {
	engine := newTestEngine(t)
	user := registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := engine.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse after logout, got %v", err)
	}
	if _, err := engine.ValidateAccess(res.Tokens.AccessToken); err != nil {
		t.Fatalf("access token stays valid until expiry, got %v", err)
	}
	if err := engine.Logout(ctx, "unknown-id"); err != nil {
		t.Fatalf("logout of unknown identity must succeed, got %v", err)
	}
}

func TestLogoutRefreshRevokesWithoutAccessToken(t *testing.T) {
	engine := newTestEngine(t)
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := engine.LogoutRefresh(ctx, "garbage"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if err := engine.LogoutRefresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse after logout, got %v", err)
	}
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	engine := newTestEngine(t)
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	first, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := engine.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected the first session to be replaced, got %v", err)
	}
}

func TestLoginRateLimitWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.MaxLoginAttempts = 3
	cfg.RateLimit.LoginCooldown = time.Minute
	engine := newTestEngine(t, func(b *Builder) {
		b.WithConfig(cfg).WithRedis(client).WithMetricsEnabled(true)
	})
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("attempt %d: expected ErrWrongPassword, got %v", i, err)
		}
	}
	_, err := engine.Login(ctx, "alice", testPassword)
	var rl *RateLimitError
	if !errors.As(err, &rl) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != time.Minute {
		t.Fatalf("expected RetryAfter=1m got %v", rl.RetryAfter)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected MetricLoginRateLimited=1 got %d", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := engine.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("expected login after cool-down, got %v", err)
	}
}

func TestRateLimitRequiresRedis(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatalf("expected build error without redis")
	}
}

func TestRedisBackedEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine := newTestEngine(t, func(b *Builder) { b.WithRedis(client) })
	registerVerified(t, engine, "alice", "alice@x.test")
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	next, err := engine.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	if _, err := engine.Refresh(ctx, next.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}
}

func TestZeroEngineNotReady(t *testing.T) {
	var engine *Engine
	if _, err := engine.Login(context.Background(), "alice", testPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.ValidateAccess("x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

// deletingStore reports every identity as missing once gone is set.
type deletingStore struct {
	identity.Store
	gone atomic.Bool
}

func (s *deletingStore) Update(ctx context.Context, id string, mutate func(*identity.Identity) error) (*identity.Identity, error) {
	if s.gone.Load() {
		return nil, identity.ErrNotFound
	}
	return s.Store.Update(ctx, id, mutate)
}
