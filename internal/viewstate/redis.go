package viewstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bucketworks/boardwalk/model"
)

// RedisStore is a Redis-backed Store for multi-instance deployments. Slots
// expire after the configured TTL; a zero TTL keeps them forever.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed view-state store.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Driver names the backing implementation.
func (s *RedisStore) Driver() string { return "redis" }

// GetMode returns the stored mode for the subject's project slot. A slot
// holding an unknown mode value counts as absent.
func (s *RedisStore) GetMode(ctx context.Context, subjectID, projectID string) (model.PresentationMode, bool, error) {
	key := FormatKey(subjectID, projectID)
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}

	mode := model.PresentationMode(raw)
	if !mode.Valid() {
		return "", false, nil
	}
	return mode, true, nil
}

// PutMode stores the mode in the subject's project slot.
func (s *RedisStore) PutMode(ctx context.Context, subjectID, projectID string, mode model.PresentationMode) error {
	key := FormatKey(subjectID, projectID)
	if err := s.client.Set(ctx, key, string(mode), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the Redis connection.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
