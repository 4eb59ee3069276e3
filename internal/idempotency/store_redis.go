package idempotency

import (
	"context"
	"fmt"
	"time"

	"call-router/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisStore claims keys with SET NX PX so every router instance shares one
// view of seen events.
type RedisStore struct {
	rdb redis.Cmdable
	ks  utils.Keyspace
}

func NewRedisStore(rdb redis.Cmdable, ks utils.Keyspace) *RedisStore {
	return &RedisStore{rdb: rdb, ks: ks}
}

func (s *RedisStore) key(k string) string { return s.ks.Key("event", k) }

func (s *RedisStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
