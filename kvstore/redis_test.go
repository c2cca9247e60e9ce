package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTestStore connects to a local Redis or skips the test, mirroring the
// integration-test pattern used across this repo.
func redisTestStore(t *testing.T) *RedisStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedis(client)
}

func testKey(prefix string) string {
	return fmt.Sprintf("surgekit_test:%s:%d", prefix, time.Now().UnixNano())
}

func TestRedisStore_SetGetDel(t *testing.T) {
	ctx := context.Background()
	s := redisTestStore(t)
	key := testKey("setget")

	if err := s.Set(ctx, key, "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || v != "v" {
		t.Errorf("Get returned (%q, %v), want (\"v\", true)", v, ok)
	}

	removed, err := s.Del(ctx, key)
	if err != nil || !removed {
		t.Errorf("Del returned (%v, %v), want (true, nil)", removed, err)
	}
	if _, ok, _ := s.Get(ctx, key); ok {
		t.Error("Get reported a hit after Del")
	}
}

func TestRedisStore_IncrAndTTLSentinels(t *testing.T) {
	ctx := context.Background()
	s := redisTestStore(t)
	key := testKey("incr")
	defer s.Del(ctx, key)

	n, err := s.Incr(ctx, key)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first Incr = %d, want 1", n)
	}

	ttl, _ := s.TTL(ctx, key)
	if ttl != TTLNone {
		t.Errorf("TTL of incremented key = %v, want TTLNone", ttl)
	}

	ttl, _ = s.TTL(ctx, testKey("absent"))
	if ttl != TTLMissing {
		t.Errorf("TTL of absent key = %v, want TTLMissing", ttl)
	}
}

func TestRedisStore_MultiExec(t *testing.T) {
	ctx := context.Background()
	s := redisTestStore(t)
	key := testKey("multi")
	defer s.Del(ctx, key)

	tx := s.Multi()
	tx.Incr(key)
	tx.Expire(key, time.Minute)

	results, err := tx.Exec(ctx)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if len(results) != 2 || results[0] != 1 || results[1] != 1 {
		t.Errorf("Exec results = %v, want [1 1]", results)
	}

	ttl, _ := s.TTL(ctx, key)
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL after Multi = %v, want (0, 1m]", ttl)
	}
}

func TestRedisStore_BoundedList(t *testing.T) {
	ctx := context.Background()
	s := redisTestStore(t)
	key := testKey("list")
	defer s.Del(ctx, key)

	for i := 0; i < 150; i++ {
		if err := s.LPush(ctx, key, fmt.Sprintf("%d", i)); err != nil {
			t.Fatalf("LPush failed: %v", err)
		}
	}
	if err := s.LTrim(ctx, key, 0, 99); err != nil {
		t.Fatalf("LTrim failed: %v", err)
	}

	got, err := s.LRange(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("LRange failed: %v", err)
	}
	if len(got) != 100 || got[0] != "149" {
		t.Errorf("trimmed list has %d elements, head %q; want 100 and \"149\"", len(got), got[0])
	}
}

func TestRedisStore_KeysEscaping(t *testing.T) {
	ctx := context.Background()
	s := redisTestStore(t)
	lit := testKey("glob") + ":user?1"
	other := testKey("glob") + ":userX1"
	defer s.Del(ctx, lit)
	defer s.Del(ctx, other)

	s.Set(ctx, lit, "1", time.Minute)
	s.Set(ctx, other, "1", time.Minute)

	// '?' must match only itself, not any single character.
	keys, err := s.Keys(ctx, "surgekit_test:glob:*user?1")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	for _, k := range keys {
		if k == other {
			t.Errorf("pattern with literal '?' matched %q", k)
		}
	}
}
