package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle parameters.
type Config struct {
	EnableIPThrottle bool
	MaxLoginAttempts int
	// LoginCooldown is the fixed window length. It starts at the first failure.
	LoginCooldown time.Duration
	KeyPrefix     string
}

// hitScript increments a window counter and starts its TTL on the first hit,
// in one round trip. Returns {count, pttl}.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Limiter counts failed logins per identifier and, optionally, per client IP
// in Redis fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl"
	}
	return &Limiter{redis: client, config: cfg}
}

// CheckLogin returns a *LimitedError when the identifier or the IP has no
// attempts left in the current window.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	keys := l.keys(identifier, ip)
	pipe := l.redis.Pipeline()
	counts := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		counts[i] = pipe.Get(ctx, key)
		ttls[i] = pipe.PTTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for i := range keys {
		n, err := counts[i].Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n >= int64(l.config.MaxLoginAttempts) {
			return &LimitedError{RetryAfter: l.remaining(ttls[i].Val())}
		}
	}
	return nil
}

// IncrementLogin records a failed attempt against the identifier and IP
// windows. It returns a *LimitedError once a window is exhausted.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	var limited error
	for _, key := range l.keys(identifier, ip) {
		res, err := hitScript.Run(ctx, l.redis, []string{key}, l.config.LoginCooldown.Milliseconds()).Int64Slice()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if res[0] > int64(l.config.MaxLoginAttempts) && limited == nil {
			limited = &LimitedError{RetryAfter: l.remaining(time.Duration(res[1]) * time.Millisecond)}
		}
	}
	return limited
}

// ResetLogin clears the identifier window after a successful login. The IP
// window is kept so one address cannot cycle through accounts.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.identifierKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the failures counted for identifier in the current window.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	n, err := l.redis.Get(ctx, l.identifierKey(identifier)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return max(n, 0), nil
}

func (l *Limiter) keys(identifier, ip string) []string {
	keys := []string{l.identifierKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.config.KeyPrefix+":ip:"+ip)
	}
	return keys
}

func (l *Limiter) identifierKey(identifier string) string {
	return l.config.KeyPrefix + ":id:" + strings.ToLower(strings.TrimSpace(identifier))
}

// remaining falls back to the full window when Redis reports no TTL.
func (l *Limiter) remaining(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return l.config.LoginCooldown
	}
	return ttl
}
