package oidc

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFlow(t *testing.T, p *fakeProvider, opts ...Option) (*Flow, *MemoryStateStore) {
	t.Helper()
	states := NewMemoryStateStore(nil)
	flow, err := NewFlow(p.config(), states, nil, opts...)
	require.NoError(t, err)
	return flow, states
}

func TestStartBuildsAuthorizationURL(t *testing.T) {
	p := newFakeProvider(t)
	flow, states := newTestFlow(t, p)

	auth, err := flow.Start(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, auth.State)
	require.NotEmpty(t, auth.Nonce)
	require.NotEqual(t, auth.State, auth.Nonce)
	require.Equal(t, DefaultStateTTL, auth.MaxAge)
	require.Equal(t, 1, states.Len())

	u, err := url.Parse(auth.URL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, "https://app.test/oauth/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid email profile", q.Get("scope"))
	require.Equal(t, auth.State, q.Get("state"))
	require.Equal(t, auth.Nonce, q.Get("nonce"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))

	again, err := flow.Start(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, auth.State, again.State)
}

func TestCallbackSuccess(t *testing.T) {
	p := newFakeProvider(t)
	flow, states := newTestFlow(t, p)
	ctx := context.Background()

	auth, err := flow.Start(ctx)
	require.NoError(t, err)
	p.setIDToken(func(map[string]string) string {
		return signIDToken(t, signingKey(t), testKID, validClaims(auth.Nonce))
	})

	res, err := flow.Callback(ctx, CallbackRequest{Code: "code-1", State: auth.State, CookieState: auth.State, CookieNonce: auth.Nonce})
	require.NoError(t, err)
	require.Equal(t, "test", res.Provider)
	require.Equal(t, "sub-1", res.Claims.Subject)
	require.Equal(t, "fed@x.test", res.Claims.Email)
	require.True(t, bool(res.Claims.EmailVerified))
	require.Equal(t, "provider-refresh", res.Tokens.RefreshToken)
	require.Equal(t, 0, states.Len(), "state must be consumed")

	u, _ := url.Parse(auth.URL)
	p.mu.Lock()
	verifier := p.lastVerifier
	p.mu.Unlock()
	require.Equal(t, u.Query().Get("code_challenge"), codeChallenge(verifier), "PKCE verifier must match challenge")

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code-1", State: auth.State, CookieState: auth.State})
	require.ErrorIs(t, err, ErrInvalidState, "replayed callback must fail")
}

func TestCallbackStateMismatchMakesNoProviderCall(t *testing.T) {
	p := newFakeProvider(t)
	flow, _ := newTestFlow(t, p)
	ctx := context.Background()

	auth, err := flow.Start(ctx)
	require.NoError(t, err)

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code-1", State: "forged", CookieState: auth.State})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Zero(t, p.tokenCalls.Load())
	require.Zero(t, p.jwksCalls.Load())

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code-1", State: auth.State, CookieState: auth.State})
	require.ErrorIs(t, err, ErrInvalidState, "state is discarded even when the first callback failed")
	require.Zero(t, p.tokenCalls.Load())

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code-1", State: auth.State})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCallbackNonceMismatch(t *testing.T) {
	p := newFakeProvider(t)
	flow, _ := newTestFlow(t, p)
	ctx := context.Background()

	auth, err := flow.Start(ctx)
	require.NoError(t, err)
	p.setIDToken(func(map[string]string) string {
		return signIDToken(t, signingKey(t), testKID, validClaims("another-nonce"))
	})

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code-1", State: auth.State, CookieState: auth.State})
	require.ErrorIs(t, err, ErrNonceMismatch)
	require.EqualValues(t, 1, p.tokenCalls.Load(), "the code was exchanged before the nonce check")
}

func TestCallbackExchangeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("provider error parameter", func(t *testing.T) {
		p := newFakeProvider(t)
		flow, _ := newTestFlow(t, p)
		auth, err := flow.Start(ctx)
		require.NoError(t, err)

		_, err = flow.Callback(ctx, CallbackRequest{State: auth.State, CookieState: auth.State, ProviderError: "access_denied"})
		require.ErrorIs(t, err, ErrTokenExchangeFailed)
		require.Zero(t, p.tokenCalls.Load())
	})

	t.Run("rejected code", func(t *testing.T) {
		p := newFakeProvider(t)
		p.tokenStatus = http.StatusBadRequest
		flow, _ := newTestFlow(t, p)
		auth, err := flow.Start(ctx)
		require.NoError(t, err)

		_, err = flow.Callback(ctx, CallbackRequest{Code: "bad", State: auth.State, CookieState: auth.State})
		require.ErrorIs(t, err, ErrTokenExchangeFailed)
	})

	t.Run("missing id token", func(t *testing.T) {
		p := newFakeProvider(t)
		flow, _ := newTestFlow(t, p)
		auth, err := flow.Start(ctx)
		require.NoError(t, err)

		_, err = flow.Callback(ctx, CallbackRequest{Code: "code", State: auth.State, CookieState: auth.State})
		require.ErrorIs(t, err, ErrTokenExchangeFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		p := newFakeProvider(t)
		p.tokenDelay = 2 * time.Second
		flow, _ := newTestFlow(t, p, WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
		auth, err := flow.Start(ctx)
		require.NoError(t, err)

		start := time.Now()
		_, err = flow.Callback(ctx, CallbackRequest{Code: "code", State: auth.State, CookieState: auth.State})
		require.ErrorIs(t, err, ErrTokenExchangeFailed)
		require.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestCallbackUnknownSigningKey(t *testing.T) {
	p := newFakeProvider(t)
	flow, _ := newTestFlow(t, p)
	ctx := context.Background()

	auth, err := flow.Start(ctx)
	require.NoError(t, err)
	p.setIDToken(func(map[string]string) string {
		return signIDToken(t, signingKey(t), "rotated-away", validClaims(auth.Nonce))
	})

	_, err = flow.Callback(ctx, CallbackRequest{Code: "code", State: auth.State, CookieState: auth.State})
	require.ErrorIs(t, err, ErrUnknownSigningKey)
	require.EqualValues(t, 1, p.jwksCalls.Load())
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := NewMemoryStateStore(clock)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ExchangeState{State: "s1", Nonce: "n1"}, time.Minute))
	now = now.Add(2 * time.Minute)
	_, err := store.Take(ctx, "s1")
	require.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, store.Save(ctx, ExchangeState{State: "s2", Nonce: "n2"}, time.Minute))
	st, err := store.Take(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, "n2", st.Nonce)
	_, err = store.Take(ctx, "s2")
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestConfigValidate(t *testing.T) {
	cfg := GoogleDefaults()
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.ClientID = "id"
	cfg.RedirectURL = "https://app.test/oauth/callback"
	require.NoError(t, cfg.Validate())

	cfg.Scopes = []string{"email"}
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := NewFlow(GoogleDefaults(), NewMemoryStateStore(nil), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
