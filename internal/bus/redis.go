package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBus leaves the client open on Close: it is the caller's and is
// shared with the session store.
type redisBus struct {
	client *redis.Client
	prefix string
}

func newRedisBus(client *redis.Client, prefix string) *redisBus {
	return &redisBus{client: client, prefix: prefix}
}

func (b *redisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for the SUBSCRIBE confirmation before returning so a
// publish issued right after Subscribe is not lost.
func (b *redisBus) Subscribe(ctx context.Context, topic string, fn Handler) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go sub.run(fn)
	return sub, nil
}

func (b *redisBus) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.prefix+"claim:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

func (b *redisBus) Close() error {
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *redisSub) run(fn Handler) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		fn([]byte(msg.Payload))
	}
	slog.Debug("redis subscription ended")
}

func (s *redisSub) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
