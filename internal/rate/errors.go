package rate

import (
	"errors"
	"time"
)

var (
	// ErrRateLimited is matched by every *LimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitedError reports an exhausted window and when it reopens.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string { return ErrRateLimited.Error() }

func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }
