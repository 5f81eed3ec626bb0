package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to LMGATE_TEST_REDIS_ADDR or skips
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("LMGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LMGATE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "lmgate-test-"+uuid.NewString())
	if err := s.Ping(t.Context()); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	return s
}

func TestRedisStore_FixedWindow(t *testing.T) {
	s := newTestRedis(t)
	ctx := t.Context()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		out, err := s.Take(ctx, "1.2.3.4:anonymous", 3, time.Second, now)
		if err != nil {
			t.Fatal(err)
		}
		if !out.Allowed || out.Record.Count != i {
			t.Fatalf("take %d = %+v", i, out)
		}
		if out.Fresh != (i == 1) {
			t.Fatalf("take %d fresh = %v", i, out.Fresh)
		}
	}

	out, err := s.Take(ctx, "1.2.3.4:anonymous", 3, time.Second, now)
	if err != nil {
		t.Fatal(err)
	}
	if out.Allowed || !out.FirstDenial || out.Record.Count != 3 {
		t.Fatalf("fourth take = %+v", out)
	}
	out, _ = s.Take(ctx, "1.2.3.4:anonymous", 3, time.Second, now)
	if out.FirstDenial {
		t.Fatal("first denial reported twice in one window")
	}

	time.Sleep(1100 * time.Millisecond)
	out, err = s.Take(ctx, "1.2.3.4:anonymous", 3, time.Second, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Allowed || out.Record.Count != 1 {
		t.Fatalf("take after expiry = %+v", out)
	}
}

func TestRedisStore_WithLimiter(t *testing.T) {
	s := newTestRedis(t)
	l := New(t.Context(), WithStore(s), WithLimit(2), WithSweepProbability(0))

	admit(l, "5.6.7.8", "u1")
	admit(l, "5.6.7.8", "u1")
	if admit(l, "5.6.7.8", "u1").Allowed {
		t.Fatal("third request should be rejected by redis")
	}
	if l.local.Len() != 0 {
		t.Fatal("local store should stay empty while redis is healthy")
	}
}

func TestRedisStore_NilClient(t *testing.T) {
	var s *RedisStore
	if _, err := s.Take(context.Background(), "k", 1, time.Second, time.Now()); err == nil {
		t.Fatal("expected error for nil store")
	}
	if NewRedisStore(nil, "").prefix != "ratelimit" {
		t.Fatal("default prefix not applied")
	}
}
