package oidc

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const maxJWKSBytes = 1 << 20

// KeyResolver returns the public key a provider signs with under kid.
// Implementations return an error wrapping ErrUnknownSigningKey when kid is unknown.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// StaticKeys is a fixed KeyResolver.
type StaticKeys map[string]crypto.PublicKey

func (s StaticKeys) ResolveKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSigningKey, kid)
	}
	return key, nil
}

var errRefetchThrottled = errors.New("jwks refetch throttled")

type cachedKey struct {
	key       crypto.PublicKey
	fetchedAt time.Time
}

// JWKSCache resolves keys from a provider's published JSON Web Key Set.
//
// Keys are cached by kid. A miss triggers one fetch shared by all concurrent
// callers; fetches are throttled by a token bucket so a flood of unknown kids
// cannot hammer the provider. JWKSCache is safe for concurrent use.
type JWKSCache struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	keys  map[string]cachedKey
}

// JWKSOption customizes a JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient sets the client used for fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSTTL expires cached keys ttl after their fetch.
func WithJWKSTTL(ttl time.Duration) JWKSOption {
	return func(c *JWKSCache) { c.ttl = ttl }
}

// WithJWKSRefetchLimit allows perMinute fetches per minute with a burst of a tenth of that.
func WithJWKSRefetchLimit(perMinute int) JWKSOption {
	return func(c *JWKSCache) {
		if perMinute > 0 {
			c.limiter = newRefetchLimiter(perMinute)
		}
	}
}

func newRefetchLimiter(perMinute int) *rate.Limiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// WithJWKSLogger sets the logger for fetch failures.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock overrides the clock used for TTL checks.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache returns an empty cache for the key set published at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
		limiter: newRefetchLimiter(DefaultJWKSRequestsPerMinute),
		logger:  zap.NewNop(),
		now:     time.Now,
		keys:    make(map[string]cachedKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveKey returns the cached key for kid, fetching the key set on a miss.
func (c *JWKSCache) ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: empty kid", ErrUnknownSigningKey)
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	// The fetch outlives any single caller that joins it.
	fetchCtx := context.WithoutCancel(ctx)
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		if key, ok := c.lookup(kid); ok {
			return key, nil
		}
		if !c.limiter.Allow() {
			return nil, errRefetchThrottled
		}
		return nil, c.refresh(fetchCtx)
	})
	if err != nil {
		if !errors.Is(err, errRefetchThrottled) {
			c.logger.Warn("jwks fetch failed", zap.String("url", c.url), zap.Error(err))
		}
		if key, ok := c.lookup(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownSigningKey, kid, err)
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSigningKey, kid)
}

// Len returns the number of cached keys.
func (c *JWKSCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

func (c *JWKSCache) lookup(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	entry, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.key, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return fmt.Errorf("read jwks: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: status=%d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	now := c.now()
	keys := make(map[string]cachedKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || k.Use == "enc" || !k.Valid() {
			continue
		}
		keys[k.KeyID] = cachedKey{key: k.Public().Key, fetchedAt: now}
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	return nil
}
