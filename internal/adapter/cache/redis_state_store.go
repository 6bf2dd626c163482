package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gocalceum/calc/internal/domain"
	"github.com/gocalceum/calc/internal/repository"
)

const statePrefix = "hmrc:oauth:state:"

// RedisStateStore implements OAuthStateStore backed by Redis. Expiry is the
// key TTL; single-use consumption relies on GETDEL being atomic, so two
// racing callbacks can never both obtain the same state.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.OAuthStateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SaveState stores the encoded state payload with TTL.
func (s *RedisStateStore) SaveState(ctx context.Context, state domain.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, statePrefix+state.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// ConsumeState removes and returns the state in one atomic step.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state, userID string) (*domain.OAuthState, error) {
	bytes, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrInvalidState
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}

	var payload domain.OAuthState
	if err := json.Unmarshal(bytes, &payload); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if payload.UserID != userID {
		return nil, domain.ErrInvalidState
	}
	if !payload.ExpiresAt.IsZero() && time.Now().After(payload.ExpiresAt) {
		return nil, domain.ErrInvalidState
	}
	return &payload, nil
}
