package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"robolink/platformmap"
)

// RedisKV keeps the platform map document in Redis instead of the settings table.
type RedisKV struct {
	client *redis.Client
	key    string
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client, key: "robolink:" + platformmap.StorageKey}
}

func (r *RedisKV) LoadRaw(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, platformmap.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RedisKV) SaveRaw(ctx context.Context, raw []byte) error {
	return r.client.Set(ctx, r.key, raw, 0).Err()
}
