package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hubenschmidt/station-notify/internal/clock"
)

func TestMemoryPublishReachesEverySubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	var a, c []string
	subA, _ := b.Subscribe(ctx, "idle", func(p []byte) { a = append(a, string(p)) })
	b.Subscribe(ctx, "idle", func(p []byte) { c = append(c, string(p)) })
	b.Subscribe(ctx, "other", func(p []byte) { t.Fatalf("unexpected delivery on other: %s", p) })

	b.Publish(ctx, "idle", []byte("one"))
	subA.Close()
	b.Publish(ctx, "idle", []byte("two"))

	if len(a) != 1 || a[0] != "one" {
		t.Fatalf("closed subscriber got %v, want [one]", a)
	}
	if len(c) != 2 || c[1] != "two" {
		t.Fatalf("open subscriber got %v, want [one two]", c)
	}
}

func TestMemoryHandlerMayPublish(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	got := 0
	b.Subscribe(ctx, "a", func([]byte) { b.Publish(ctx, "b", []byte("x")) })
	b.Subscribe(ctx, "b", func([]byte) { got++ })

	if err := b.Publish(ctx, "a", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != 1 {
		t.Fatalf("nested delivery count = %d, want 1", got)
	}
}

func TestMemoryClaimIsExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b, err := New(TypeMemory, WithClock(fake), WithPrefix("station-1:"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, _ := b.Claim(ctx, "logout:42", time.Minute)
	second, _ := b.Claim(ctx, "logout:42", time.Minute)
	if !first || second {
		t.Fatalf("claims = %v, %v; want true, false", first, second)
	}

	fake.Advance(time.Minute)
	again, _ := b.Claim(ctx, "logout:42", time.Minute)
	if !again {
		t.Fatal("claim after ttl = false, want true")
	}
}

func TestMemoryClosedRejectsPublish(t *testing.T) {
	b := NewMemory()
	b.Close()
	if err := b.Publish(context.Background(), "x", nil); err != ErrClosed {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestRedisBusLeavesClientOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	b, err := New(TypeRedis, WithRedisClient(client))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("owner Close = %v, want the client still open", err)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New("carrier-pigeon"); err != ErrInvalidType {
		t.Fatalf("New = %v, want ErrInvalidType", err)
	}
	if _, err := New(TypeRedis); err != ErrInvalidConfig {
		t.Fatalf("New(redis) without client = %v, want ErrInvalidConfig", err)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	ctx := context.Background()
	prefix := "test-" + time.Now().Format("150405.000000") + ":"
	client := redis.NewClient(opts)
	defer client.Close()
	b, err := New(TypeRedis, WithRedisClient(client), WithPrefix(prefix))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := make(chan string, 1)
	sub, err := b.Subscribe(ctx, "idle", func(p []byte) { got <- string(p) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "idle", []byte("activity")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case p := <-got:
		if p != "activity" {
			t.Fatalf("payload = %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	first, _ := b.Claim(ctx, "k", time.Second)
	second, _ := b.Claim(ctx, "k", time.Second)
	if !first || second {
		t.Fatalf("claims = %v, %v; want true, false", first, second)
	}

	// The client is shared with the session store and outlives the bus.
	b.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("client closed with the bus: %v", err)
	}
}
