// Package limiters holds small single-purpose Redis limiters used inside
// the engine, separate from the public login rate limiter.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrMFARateLimited = errors.New("mfa code rate limited")
	ErrMFAUnavailable = errors.New("mfa limiter unavailable")
)

// MFAConfig holds thresholds for the per-principal code attempt limiter.
type MFAConfig struct {
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// MFALimiter throttles TOTP/backup code guesses per principal. A fixed
// window like the login limiter, but with a much shorter cooldown since a
// code is only worth guessing within its time step.
type MFALimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
	prefix      string
}

func NewMFALimiter(client redis.UniversalClient, cfg MFAConfig) *MFALimiter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mfa"
	}
	return &MFALimiter{
		redis:       client,
		maxAttempts: int64(cfg.MaxAttempts),
		window:      cfg.Window,
		prefix:      prefix,
	}
}

func (l *MFALimiter) key(principalID string) string {
	return l.prefix + ":att:" + principalID
}

// Check returns ErrMFARateLimited when the principal has used up its guesses
// for the current window.
func (l *MFALimiter) Check(ctx context.Context, principalID string) error {
	count, err := l.redis.Get(ctx, l.key(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// RecordFailure counts a wrong code. Returns ErrMFARateLimited when this
// failure exhausted the window.
func (l *MFALimiter) RecordFailure(ctx context.Context, principalID string) error {
	count, err := l.redis.Incr(ctx, l.key(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(principalID), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// Reset clears the counter after a successful validation.
func (l *MFALimiter) Reset(ctx context.Context, principalID string) error {
	if err := l.redis.Del(ctx, l.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	return nil
}
