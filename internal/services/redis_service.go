package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis backed cooldowns
type RedisService struct {
	client *redis.Client
}

// NewRedisService creates a new Redis service instance
func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

func rateLimitKey(scope, subject string) string {
	return fmt.Sprintf("rate_limit:%s:%s", scope, subject)
}

// AcquireCooldown takes the cooldown for (scope, subject). It returns false when
// the cooldown is already held; the key expires on its own after ttl.
func (r *RedisService) AcquireCooldown(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, rateLimitKey(scope, subject), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire cooldown: %w", err)
	}
	return ok, nil
}

// ReleaseCooldown drops a cooldown early, e.g. when the guarded action failed.
func (r *RedisService) ReleaseCooldown(ctx context.Context, scope, subject string) error {
	return r.client.Del(ctx, rateLimitKey(scope, subject)).Err()
}

// CooldownRemaining returns how long until the cooldown can be taken again.
func (r *RedisService) CooldownRemaining(ctx context.Context, scope, subject string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, rateLimitKey(scope, subject)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
