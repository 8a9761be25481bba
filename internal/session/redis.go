package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend keeps the slot under one key. The client is owned by the
// caller and shared with the bus, so close leaves it open.
type redisBackend struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (r *redisBackend) load(ctx context.Context) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *redisBackend) save(ctx context.Context, val []byte) error {
	return r.client.Set(ctx, r.key, val, r.ttl).Err()
}

func (r *redisBackend) remove(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *redisBackend) close() error { return nil }
