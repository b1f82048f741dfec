// Package rate implements the fixed-window login attempt limiter backed by
// Redis. Two keys per identifier: a counter whose TTL starts at the first
// failed attempt and is never refreshed, and a block marker written when the
// counter crosses the threshold. Attempts made while blocked therefore never
// extend the block.
package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when Redis cannot be reached. Callers decide
// whether to fail open or closed.
var ErrUnavailable = errors.New("rate: backend unavailable")

// Config holds the window policy.
type Config struct {
	MaxAttempts int
	BlockWindow time.Duration
	Prefix      string
}

// Limiter tracks failed attempts per identifier. Safe for concurrent use;
// increments are atomic in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{redis: client, config: cfg}
}

func (l *Limiter) attemptsKey(id string) string { return l.config.Prefix + ":a:" + id }
func (l *Limiter) blockKey(id string) string    { return l.config.Prefix + ":b:" + id }

// IsBlocked reports whether the identifier has exhausted its attempts in the
// current window. If the counter is over threshold but no block marker exists
// yet (written concurrently or lost), the marker is set here so the blocked
// instant is recorded on first observation.
func (l *Limiter) IsBlocked(ctx context.Context, id string) (bool, error) {
	count, err := l.redis.Get(ctx, l.attemptsKey(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(l.config.MaxAttempts) {
		return false, nil
	}
	if err := l.markBlocked(ctx, id); err != nil {
		return true, err
	}
	return true, nil
}

// RecordFailedAttempt increments the counter. The window TTL is set only
// when this attempt created the counter. Crossing the threshold writes the
// block marker with the remaining window as its TTL.
func (l *Limiter) RecordFailedAttempt(ctx context.Context, id string) error {
	count, err := l.redis.Incr(ctx, l.attemptsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.attemptsKey(id), l.config.BlockWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= int64(l.config.MaxAttempts) {
		return l.markBlocked(ctx, id)
	}
	return nil
}

// markBlocked writes the block marker once. Its TTL mirrors what is left of
// the attempt counter's window so both expire together.
func (l *Limiter) markBlocked(ctx context.Context, id string) error {
	ttl, err := l.redis.PTTL(ctx, l.attemptsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		ttl = l.config.BlockWindow
	}
	err = l.redis.SetNX(ctx, l.blockKey(id),
		strconv.FormatInt(time.Now().Unix(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ClearAttempts removes the counter and the block marker.
func (l *Limiter) ClearAttempts(ctx context.Context, id string) error {
	if err := l.redis.Del(ctx, l.attemptsKey(id), l.blockKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RemainingAttempts returns how many failures are left before the block,
// never below zero.
func (l *Limiter) RemainingAttempts(ctx context.Context, id string) (int, error) {
	count, err := l.redis.Get(ctx, l.attemptsKey(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.config.MaxAttempts, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	remaining := int64(l.config.MaxAttempts) - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// BlockTimeRemaining returns the time left on the block, zero when the
// identifier is not blocked.
func (l *Limiter) BlockTimeRemaining(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.blockKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// -1 no expiry, -2 missing key; either way not an active block
		return 0, nil
	}
	return ttl, nil
}
