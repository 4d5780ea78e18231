package otp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle guards concurrent issuance for one contact across instances. Acquire reports false
// while another issuance for the contact holds the window.
type Throttle interface {
	Acquire(ctx context.Context, contact string, window time.Duration) (bool, error)
	Release(ctx context.Context, contact string) error
}

// RedisThrottle implements Throttle with SET NX PX on a hashed contact key.
type RedisThrottle struct {
	redis  *redis.Client
	prefix string
}

// NewRedisThrottle returns a throttle storing keys under "otp:issue:".
func NewRedisThrottle(client *redis.Client) *RedisThrottle {
	return &RedisThrottle{redis: client, prefix: "otp:issue:"}
}

// The contact is hashed so email addresses never appear in Redis.
func (t *RedisThrottle) key(contact string) string {
	sum := sha256.Sum256([]byte(contact))
	return t.prefix + hex.EncodeToString(sum[:])
}

func (t *RedisThrottle) Acquire(ctx context.Context, contact string, window time.Duration) (bool, error) {
	return t.redis.SetNX(ctx, t.key(contact), "1", window).Result()
}

func (t *RedisThrottle) Release(ctx context.Context, contact string) error {
	return t.redis.Del(ctx, t.key(contact)).Err()
}
