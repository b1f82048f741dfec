// Package stores holds the engine's Redis-backed state that must outlive a
// single request but is not the host application's persistence concern.
package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRefreshUnavailable = errors.New("refresh store unavailable")

// RefreshStore is the allowlist of live refresh tokens, keyed by jti. A
// refresh token is honored only while its entry exists; logout and rotation
// delete entries, and TTL expiry collects the rest.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshStore(client redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RefreshStore{redis: client, prefix: prefix}
}

func (s *RefreshStore) key(tokenID string) string { return s.prefix + ":" + tokenID }

// Save records a newly issued refresh token. TTL matches the token's own
// expiry so the entry cannot outlive the signature.
func (s *RefreshStore) Save(ctx context.Context, tokenID, subject string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(tokenID), subject, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return nil
}

// Active reports whether the token is still honored.
func (s *RefreshStore) Active(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return n == 1, nil
}

// Revoke deletes the entry. Reports whether it existed, so double revocation
// is observable to the caller but not an error.
func (s *RefreshStore) Revoke(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return n == 1, nil
}
