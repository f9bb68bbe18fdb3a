package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs the snapshot store with Redis, for deployments where
// the session core runs off-device and several frontends share one
// cache. Keys are namespaced per user so two sessions never clobber
// each other's snapshots.
type RedisStore struct {
	client *redis.Client
	userID string
}

func NewRedisStore(client *redis.Client, userID string) *RedisStore {
	return &RedisStore{client: client, userID: userID}
}

func (r *RedisStore) key(key string) string {
	return fmt.Sprintf("bidsession:%s:%s", r.userID, key)
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return result, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
