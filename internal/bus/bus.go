// Package bus is the publish/subscribe channel that ties the tabs of one
// session group together. The memory driver serves tabs living in one
// process; the Redis driver spans processes on a station.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hubenschmidt/station-notify/internal/clock"
)

var (
	ErrInvalidConfig = errors.New("invalid bus configuration")
	ErrInvalidType   = errors.New("invalid bus type")
	ErrClosed        = errors.New("bus closed")
)

// Handler receives one published payload.
type Handler func(payload []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Close() error
}

// Bus fans payloads out to every subscriber of a topic and arbitrates
// one-shot claims between competing tabs.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe calls fn for every payload published on topic, in publish
	// order, until the subscription is closed.
	Subscribe(ctx context.Context, topic string, fn Handler) (Subscription, error)

	// Claim reports true to exactly one caller per key until ttl expires.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Close() error
}

// Type selects a bus driver.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// Option configures a bus.
type Option func(*options)

type options struct {
	redisClient *redis.Client
	prefix      string
	clock       clock.Clock
}

// WithRedisClient sets the client used by the Redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redisClient = client }
}

// WithPrefix namespaces every topic and claim key, typically with the
// session group name.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithClock sets the clock used to expire memory claims.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a bus of the given type.
func New(t Type, opts ...Option) (Bus, error) {
	o := &options{clock: clock.Real()}
	for _, opt := range opts {
		opt(o)
	}

	switch t {
	case TypeMemory:
		return newMemory(o.prefix, o.clock), nil
	case TypeRedis:
		if o.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisBus(o.redisClient, o.prefix), nil
	default:
		return nil, ErrInvalidType
	}
}
