package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifierChecks(t *testing.T) {
	key := signingKey(t)
	v := NewVerifier(testClientID, []string{testIssuer}, StaticKeys{testKID: &key.PublicKey}, 0, nil)
	ctx := context.Background()

	claims, err := v.Verify(ctx, signIDToken(t, key, testKID, validClaims("n")))
	require.NoError(t, err)
	require.Equal(t, "n", claims.Nonce)

	cases := map[string]func(*IDTokenClaims){
		"wrong audience": func(c *IDTokenClaims) { c.Audience = jwt.ClaimStrings{"someone-else"} },
		"expired":        func(c *IDTokenClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) },
		"no expiry":      func(c *IDTokenClaims) { c.ExpiresAt = nil },
		"bad issuer":     func(c *IDTokenClaims) { c.Issuer = "https://evil.test" },
		"no subject":     func(c *IDTokenClaims) { c.Subject = "" },
	}
	for name, mutate := range cases {
		c := validClaims("n")
		mutate(&c)
		_, err := v.Verify(ctx, signIDToken(t, key, testKID, c))
		require.ErrorIs(t, err, ErrInvalidIDToken, name)
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signIDToken(t, other, testKID, validClaims("n")))
	require.ErrorIs(t, err, ErrInvalidIDToken, "foreign signature")

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("n"))
	hs.Header["kid"] = testKID
	raw, err := hs.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidIDToken, "algorithm outside RS256")

	_, err = v.Verify(ctx, signIDToken(t, key, "unknown", validClaims("n")))
	require.ErrorIs(t, err, ErrUnknownSigningKey)
}

func TestJWKSCacheCollapsesConcurrentMisses(t *testing.T) {
	p := newFakeProvider(t)
	cache := NewJWKSCache(p.server.URL+"/jwks", WithJWKSRefetchLimit(600))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.ResolveKey(ctx, testKID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, p.jwksCalls.Load())

	_, err := cache.ResolveKey(ctx, testKID)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.jwksCalls.Load(), "cached key must not refetch")
	require.Equal(t, 1, cache.Len())
}

func TestJWKSCacheUnknownKidAndThrottle(t *testing.T) {
	p := newFakeProvider(t)
	cache := NewJWKSCache(p.server.URL + "/jwks")
	ctx := context.Background()

	_, err := cache.ResolveKey(ctx, "missing")
	require.ErrorIs(t, err, ErrUnknownSigningKey)
	require.EqualValues(t, 1, p.jwksCalls.Load())

	_, err = cache.ResolveKey(ctx, "missing-again")
	require.ErrorIs(t, err, ErrUnknownSigningKey)
	require.EqualValues(t, 1, p.jwksCalls.Load(), "refetch must be throttled")

	_, err = cache.ResolveKey(ctx, testKID)
	require.NoError(t, err, "keys from the earlier fetch stay cached")
}

func TestJWKSCacheTTL(t *testing.T) {
	p := newFakeProvider(t)
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache := NewJWKSCache(p.server.URL+"/jwks", WithJWKSTTL(time.Minute), WithJWKSClock(clock), WithJWKSRefetchLimit(600))
	ctx := context.Background()

	_, err := cache.ResolveKey(ctx, testKID)
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = cache.ResolveKey(ctx, testKID)
	require.NoError(t, err)
	require.EqualValues(t, 2, p.jwksCalls.Load())
}

func TestJWKSCacheFetchFailure(t *testing.T) {
	cache := NewJWKSCache("http://127.0.0.1:1/jwks")
	_, err := cache.ResolveKey(context.Background(), testKID)
	require.ErrorIs(t, err, ErrUnknownSigningKey)
}

func TestBoolAcceptsStrings(t *testing.T) {
	var claims struct {
		A Bool `json:"a"`
		B Bool `json:"b"`
		C Bool `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":"true","c":null}`), &claims))
	require.True(t, bool(claims.A))
	require.True(t, bool(claims.B))
	require.False(t, bool(claims.C))
	require.Error(t, json.Unmarshal([]byte(`{"a":"yes"}`), &claims))
}
