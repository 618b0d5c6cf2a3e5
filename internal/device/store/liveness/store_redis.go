package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps short-lived liveness markers per device. A key expiring
// means the device has not synced within the TTL, which is exactly the
// "offline" signal the device list wants.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func key(tenantID, deviceID string) string {
	return "device:liveness:" + tenantID + ":" + deviceID
}

func (t *RedisTracker) Touch(ctx context.Context, tenantID, deviceID string, at time.Time) error {
	if err := t.client.Set(ctx, key(tenantID, deviceID), at.Format(time.RFC3339Nano), t.ttl).Err(); err != nil {
		return fmt.Errorf("liveness touch: %w", err)
	}
	return nil
}

func (t *RedisTracker) Online(ctx context.Context, tenantID string, deviceIDs []string) (map[string]bool, error) {
	if len(deviceIDs) == 0 {
		return map[string]bool{}, nil
	}
	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = key(tenantID, id)
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("liveness lookup: %w", err)
	}
	out := make(map[string]bool, len(deviceIDs))
	for i, v := range values {
		out[deviceIDs[i]] = v != nil
	}
	return out, nil
}
