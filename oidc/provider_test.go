package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "client-123"
	testIssuer   = "https://issuer.test"
	testKID      = "key-1"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims IDTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	raw, err := token.SignedString(key)
	require.NoError(t, err)
	return raw
}

func validClaims(nonce string) IDTokenClaims {
	now := time.Now()
	return IDTokenClaims{
		Nonce:         nonce,
		Email:         "fed@x.test",
		EmailVerified: true,
		Name:          "Fed User",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-1",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
}

// fakeProvider serves a token endpoint and a JWKS endpoint.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	tokenCalls atomic.Int64
	jwksCalls  atomic.Int64

	mu           sync.Mutex
	idToken      func(form map[string]string) string
	tokenStatus  int
	tokenDelay   time.Duration
	lastVerifier string
	keys         jose.JSONWebKeySet
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t, tokenStatus: http.StatusOK}
	p.keys = jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &signingKey(t).PublicKey,
		KeyID:     testKID,
		Algorithm: "RS256",
		Use:       "sig",
	}}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())

		p.mu.Lock()
		delay, status, mint := p.tokenDelay, p.tokenStatus, p.idToken
		p.lastVerifier = r.PostForm.Get("code_verifier")
		p.mu.Unlock()

		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		form := map[string]string{"code": r.PostForm.Get("code")}
		resp := map[string]any{
			"access_token":  "provider-access",
			"refresh_token": "provider-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
		if mint != nil {
			if id := mint(form); id != "" {
				resp["id_token"] = id
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.jwksCalls.Add(1)
		p.mu.Lock()
		keys := p.keys
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keys)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) config() Config {
	return Config{
		ProviderName:          "test",
		ClientID:              testClientID,
		ClientSecret:          "secret",
		RedirectURL:           "https://app.test/oauth/callback",
		AuthURL:               p.server.URL + "/authorize",
		TokenURL:              p.server.URL + "/token",
		JWKSURL:               p.server.URL + "/jwks",
		Issuers:               []string{testIssuer},
		UsePKCE:               true,
		JWKSRequestsPerMinute: 600,
		HTTPTimeout:           2 * time.Second,
	}
}

func (p *fakeProvider) setIDToken(mint func(form map[string]string) string) {
	p.mu.Lock()
	p.idToken = mint
	p.mu.Unlock()
}
