package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for answered needs.
const answeredKeyPrefix = "answered:need:"

// RedisStore shares answered-need state across resolver instances. Keys
// expire after the retention window.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Seen(ctx context.Context, needID string) (bool, error) {
	n, err := s.client.Exists(ctx, answeredKeyPrefix+needID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, needID string) error {
	// Key existence is the marker; the value carries nothing.
	return s.client.Set(ctx, answeredKeyPrefix+needID, "1", s.retention).Err()
}
