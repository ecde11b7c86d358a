package flow

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (r *RedisStore) key(sid, key string) string { return r.prefix + sid + ":" + key }

func (r *RedisStore) Get(ctx context.Context, sid, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(sid, key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, sid, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(sid, key), value, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, sid, key string) error {
	return r.client.Del(ctx, r.key(sid, key)).Err()
}
