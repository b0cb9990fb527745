package authcore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/authcore/oidc"
)

const (
	fedIssuer   = "https://idp.test"
	fedClientID = "client-1"
	fedKID      = "kid-1"
)

var (
	fedKeyOnce sync.Once
	fedKey     *rsa.PrivateKey
)

func federationKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	fedKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		fedKey = key
	})
	return fedKey
}

// fakeExchanger answers every code with an id token built from claims.
type fakeExchanger struct {
	mu     sync.Mutex
	t      *testing.T
	claims func() oidc.IDTokenClaims
	calls  int
}

func (f *fakeExchanger) Exchange(_ context.Context, code, _ string) (*oidc.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if code == "bad-code" {
		return nil, errors.New("invalid_grant")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, f.claims())
	token.Header["kid"] = fedKID
	raw, err := token.SignedString(federationKey(f.t))
	if err != nil {
		return nil, err
	}
	return &oidc.TokenResponse{IDToken: raw, RefreshToken: "provider-refresh", TokenType: "Bearer"}, nil
}

func (f *fakeExchanger) set(claims func() oidc.IDTokenClaims) {
	f.mu.Lock()
	f.claims = claims
	f.mu.Unlock()
}

type fedEnv struct {
	*testEnv
	exchanger *fakeExchanger
}

func newFederationEnv(t *testing.T, opts ...func(*Builder)) *fedEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Federation.Enabled = true
	cfg.Federation.SealKey = bytes.Repeat([]byte("s"), 32)
	cfg.Federation.Provider = oidc.Config{
		ProviderName: "test",
		ClientID:     fedClientID,
		RedirectURL:  "https://app.test/auth/oidc/callback",
		AuthURL:      fedIssuer + "/authorize",
		TokenURL:     fedIssuer + "/token",
		Issuers:      []string{fedIssuer},
		UsePKCE:      true,
	}
	ex := &fakeExchanger{t: t}
	env := newTestEnv(t, append([]func(*Builder){func(b *Builder) {
		b.WithConfig(cfg).
			WithKeyResolver(oidc.StaticKeys{fedKID: &federationKey(t).PublicKey}).
			WithTokenExchanger(ex)
	}}, opts...)...)
	return &fedEnv{testEnv: env, exchanger: ex}
}

func (e *fedEnv) idClaims(nonce, subject, email string, verified bool) func() oidc.IDTokenClaims {
	return func() oidc.IDTokenClaims {
		now := e.clock.Now()
		return oidc.IDTokenClaims{
			Nonce:         nonce,
			Email:         email,
			EmailVerified: oidc.Bool(verified),
			Name:          "Fed User",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				Issuer:    fedIssuer,
				Audience:  jwt.ClaimStrings{fedClientID},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			},
		}
	}
}

func (e *fedEnv) signIn(t *testing.T, subject, email string, verified bool) (*FederationResult, error) {
	t.Helper()
	ctx := context.Background()
	start, err := e.engine.StartFederation(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.exchanger.set(e.idClaims(start.Nonce, subject, email, verified))
	return e.engine.CompleteFederation(ctx, FederationCallback{
		Code:        "code-1",
		State:       start.State,
		CookieState: start.State,
		CookieNonce: start.Nonce,
	})
}

func TestFederationCreatesThenLinks(t *testing.T) {
	env := newFederationEnv(t, func(b *Builder) { b.WithMetricsEnabled(true) })
	ctx := context.Background()

	first, err := env.signIn(t, "sub-1", "Fed@X.test", true)
	if err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	if !first.Created || first.Provider != "test" {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.User.Email != "fed@x.test" || !first.User.EmailVerified || first.User.HasPassword {
		t.Fatalf("unexpected user %+v", first.User)
	}
	if _, err := env.engine.ValidateAccess(first.Tokens.AccessToken); err != nil {
		t.Fatalf("validate federated access token: %v", err)
	}

	second, err := env.signIn(t, "sub-1", "fed@x.test", true)
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if second.Created || second.User.ID != first.User.ID {
		t.Fatalf("expected the existing identity, got %+v", second)
	}
	if _, err := env.engine.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("second sign-in replaces the session, got %v", err)
	}

	stored, err := env.engine.store.Get(ctx, first.User.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ProviderRefreshToken == "" || stored.ProviderRefreshToken == "provider-refresh" {
		t.Fatalf("provider refresh token must be sealed at rest")
	}
	token, err := env.engine.ProviderRefreshToken(ctx, first.User.ID)
	if err != nil {
		t.Fatalf("open provider refresh token: %v", err)
	}
	if token != "provider-refresh" {
		t.Fatalf("expected provider-refresh, got %q", token)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricFederationSuccess] != 2 || snap.Counters[MetricFederationIdentityCreated] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestFederationEmailTakenIsConflict(t *testing.T) {
	env := newFederationEnv(t)
	registerVerified(t, env.engine, "mona", "mona@x.test")

	_, err := env.signIn(t, "sub-9", "mona@x.test", true)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestFederationRequiresVerifiedProviderEmail(t *testing.T) {
	env := newFederationEnv(t)

	if _, err := env.signIn(t, "sub-2", "nv@x.test", false); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestFederationCallbackRejections(t *testing.T) {
	env := newFederationEnv(t)
	ctx := context.Background()

	t.Run("state mismatch", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err = env.engine.CompleteFederation(ctx, FederationCallback{Code: "code-1", State: "forged", CookieState: start.State})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("replayed state", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		env.exchanger.set(env.idClaims(start.Nonce, "sub-3", "replay@x.test", true))
		cb := FederationCallback{Code: "code-1", State: start.State, CookieState: start.State, CookieNonce: start.Nonce}
		if _, err := env.engine.CompleteFederation(ctx, cb); err != nil {
			t.Fatalf("first callback: %v", err)
		}
		if _, err := env.engine.CompleteFederation(ctx, cb); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on replay, got %v", err)
		}
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		env.exchanger.set(env.idClaims("other-nonce", "sub-4", "nonce@x.test", true))
		_, err = env.engine.CompleteFederation(ctx, FederationCallback{Code: "code-1", State: start.State, CookieState: start.State})
		if !errors.Is(err, ErrNonceMismatch) {
			t.Fatalf("expected ErrNonceMismatch, got %v", err)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err = env.engine.CompleteFederation(ctx, FederationCallback{State: start.State, CookieState: start.State, ProviderError: "access_denied"})
		if !errors.Is(err, ErrTokenExchangeFailed) {
			t.Fatalf("expected ErrTokenExchangeFailed, got %v", err)
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err = env.engine.CompleteFederation(ctx, FederationCallback{Code: "bad-code", State: start.State, CookieState: start.State})
		if !errors.Is(err, ErrTokenExchangeFailed) {
			t.Fatalf("expected ErrTokenExchangeFailed, got %v", err)
		}
	})

	t.Run("expired state", func(t *testing.T) {
		start, err := env.engine.StartFederation(ctx)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		env.clock.Advance(start.MaxAge + time.Second)
		env.exchanger.set(env.idClaims(start.Nonce, "sub-5", "late@x.test", true))
		_, err = env.engine.CompleteFederation(ctx, FederationCallback{Code: "code-1", State: start.State, CookieState: start.State})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestFederationDisabled(t *testing.T) {
	engine := newTestEngine(t)

	if engine.FederationEnabled() {
		t.Fatalf("federation must be off by default")
	}
	if _, err := engine.StartFederation(context.Background()); !errors.Is(err, ErrFederationDisabled) {
		t.Fatalf("expected ErrFederationDisabled, got %v", err)
	}
	if _, err := engine.CompleteFederation(context.Background(), FederationCallback{}); !errors.Is(err, ErrFederationDisabled) {
		t.Fatalf("expected ErrFederationDisabled, got %v", err)
	}
}
