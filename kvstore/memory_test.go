package kvstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore() *MemoryStore {
	return NewMemory(context.Background(), 0)
}

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || v != "v" {
		t.Errorf("Get returned (%q, %v), want (\"v\", true)", v, ok)
	}

	_, ok, _ = s.Get(ctx, "missing")
	if ok {
		t.Error("Get reported a hit for a key that was never set")
	}
}

func TestMemoryStore_ExpiredKeyIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Jump past the deadline instead of sleeping.
	now = now.Add(2 * time.Second)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Get returned a value whose TTL had elapsed")
	}

	ttl, err := s.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != TTLMissing {
		t.Errorf("TTL after expiry = %v, want TTLMissing", ttl)
	}
}

func TestMemoryStore_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, _ := s.TTL(ctx, "k")
	if ttl <= 0 || ttl > DefaultTTL {
		t.Errorf("TTL for a no-TTL Set = %v, want a bounded default", ttl)
	}
}

func TestMemoryStore_IncrStartsAtZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	n, err := s.Incr(ctx, "counter")
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first Incr = %d, want 1", n)
	}

	n, _ = s.Incr(ctx, "counter")
	if n != 2 {
		t.Errorf("second Incr = %d, want 2", n)
	}

	// Incr itself must not attach a TTL.
	ttl, _ := s.TTL(ctx, "counter")
	if ttl != TTLNone {
		t.Errorf("TTL of incremented key = %v, want TTLNone", ttl)
	}
}

func TestMemoryStore_IncrRestartsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Incr(ctx, "counter")
	s.Incr(ctx, "counter")
	s.Expire(ctx, "counter", time.Second)

	now = now.Add(2 * time.Second)

	n, _ := s.Incr(ctx, "counter")
	if n != 1 {
		t.Errorf("Incr on an expired key = %d, want 1", n)
	}
}

// Race test: N concurrent increments must produce exactly N.
func TestMemoryStore_IncrAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	const n = 200
	var wg sync.WaitGroup
	seen := make(chan int64, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v, err := s.Incr(ctx, "counter")
			if err != nil {
				t.Errorf("Incr failed: %v", err)
				return
			}
			seen <- v
		}()
	}
	wg.Wait()
	close(seen)

	dupes := make(map[int64]bool, n)
	for v := range seen {
		if dupes[v] {
			t.Fatalf("two increments observed the same value %d", v)
		}
		dupes[v] = true
	}

	final, _ := s.Incr(ctx, "counter")
	if final != n+1 {
		t.Errorf("final counter = %d, want %d", final, n+1)
	}
}

func TestMemoryStore_ExpireAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Expire(ctx, "ghost", time.Minute); err != nil {
		t.Fatalf("Expire on absent key errored: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ghost"); ok {
		t.Error("Expire materialized a key")
	}
}

func TestMemoryStore_Del(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "k", "v", time.Minute)

	removed, _ := s.Del(ctx, "k")
	if !removed {
		t.Error("Del of an existing key reported false")
	}
	removed, _ = s.Del(ctx, "k")
	if removed {
		t.Error("Del of a removed key reported true")
	}
}

func TestMemoryStore_KeysGlob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for _, k := range []string{
		"errors:validation:places",
		"errors:timeout:auth",
		"errors:validation",
		"other:validation:places",
	} {
		s.Set(ctx, k, "1", time.Minute)
	}

	keys, err := s.Keys(ctx, "errors:*:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}

	want := map[string]bool{
		"errors:validation:places": true,
		"errors:timeout:auth":      true,
	}
	if len(keys) != len(want) {
		t.Fatalf("Keys matched %v, want exactly %v", keys, want)
	}
	for _, k := range keys {
		if !want[k] {
			t.Errorf("Keys matched unexpected key %q", k)
		}
	}
}

func TestMemoryStore_KeysEscapesMetacharacters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "user.activity", "1", time.Minute)
	s.Set(ctx, "userXactivity", "1", time.Minute)

	// '.' is a literal, not a regex wildcard.
	keys, _ := s.Keys(ctx, "user.activity")
	if len(keys) != 1 || keys[0] != "user.activity" {
		t.Errorf("Keys(%q) = %v, want only the literal match", "user.activity", keys)
	}

	// '?' is a literal too; the grammar supports '*' alone.
	keys, _ = s.Keys(ctx, "user?activity")
	if len(keys) != 0 {
		t.Errorf("Keys(%q) = %v, want no matches", "user?activity", keys)
	}
}

func TestMemoryStore_KeysSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set(ctx, "user:activity:a", "1", time.Second)
	s.Set(ctx, "user:activity:b", "1", time.Hour)

	now = now.Add(2 * time.Second)

	keys, _ := s.Keys(ctx, "user:activity:*")
	if len(keys) != 1 || keys[0] != "user:activity:b" {
		t.Errorf("Keys returned %v, want only the live key", keys)
	}
}

func TestMemoryStore_BoundedList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for i := 0; i < 150; i++ {
		if err := s.LPush(ctx, "samples", fmt.Sprintf("%d", i)); err != nil {
			t.Fatalf("LPush failed: %v", err)
		}
	}
	if err := s.LTrim(ctx, "samples", 0, 99); err != nil {
		t.Fatalf("LTrim failed: %v", err)
	}

	got, err := s.LRange(ctx, "samples", 0, -1)
	if err != nil {
		t.Fatalf("LRange failed: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("list holds %d elements after trim, want 100", len(got))
	}
	if got[0] != "149" {
		t.Errorf("head of list = %q, want most recently pushed (\"149\")", got[0])
	}
	if got[99] != "50" {
		t.Errorf("tail of list = %q, want \"50\"", got[99])
	}
}

func TestMemoryStore_LTrimEmptyRangeDeletesKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.LPush(ctx, "l", "a", "b")
	s.LTrim(ctx, "l", 5, 1)

	if got, _ := s.LRange(ctx, "l", 0, -1); len(got) != 0 {
		t.Errorf("LRange after empty trim = %v, want empty", got)
	}
	ttl, _ := s.TTL(ctx, "l")
	if ttl != TTLMissing {
		t.Errorf("key survived an empty trim, TTL = %v", ttl)
	}
}

func TestMemoryStore_WrongType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "k", "v", time.Minute)

	if err := s.LPush(ctx, "k", "x"); err != ErrWrongType {
		t.Errorf("LPush on a string key returned %v, want ErrWrongType", err)
	}
	if _, err := s.SCard(ctx, "k"); err != ErrWrongType {
		t.Errorf("SCard on a string key returned %v, want ErrWrongType", err)
	}

	s.LPush(ctx, "list", "x")
	if _, err := s.Incr(ctx, "list"); err != ErrWrongType {
		t.Errorf("Incr on a list key returned %v, want ErrWrongType", err)
	}
}

func TestMemoryStore_Sets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.SAdd(ctx, "idx", "a", "b")
	s.SAdd(ctx, "idx", "b", "c")

	n, err := s.SCard(ctx, "idx")
	if err != nil {
		t.Fatalf("SCard failed: %v", err)
	}
	if n != 3 {
		t.Errorf("SCard = %d, want 3", n)
	}

	s.SRem(ctx, "idx", "a", "c")
	members, _ := s.SMembers(ctx, "idx")
	if len(members) != 1 || members[0] != "b" {
		t.Errorf("SMembers = %v, want [b]", members)
	}

	s.SRem(ctx, "idx", "b")
	ttl, _ := s.TTL(ctx, "idx")
	if ttl != TTLMissing {
		t.Error("emptied set key was not removed")
	}
}

func TestMemoryStore_MultiExec(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	tx := s.Multi()
	tx.Incr("counter")
	tx.Expire("counter", time.Minute)

	results, err := tx.Exec(ctx)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Exec returned %d results, want 2", len(results))
	}
	if results[0] != 1 {
		t.Errorf("queued Incr = %d, want 1", results[0])
	}
	if results[1] != 1 {
		t.Errorf("queued Expire = %d, want 1 (key existed)", results[1])
	}

	ttl, _ := s.TTL(ctx, "counter")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL after Multi = %v, want (0, 1m]", ttl)
	}
}

func TestMemoryStore_MultiExecSurfacesError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "notanumber", "abc", time.Minute)

	tx := s.Multi()
	tx.Incr("fine")
	tx.Incr("notanumber")
	tx.Expire("fine", time.Minute)

	if _, err := tx.Exec(ctx); err != ErrNotInteger {
		t.Fatalf("Exec returned %v, want ErrNotInteger", err)
	}

	// The op before the failure ran; the one after did not.
	if n, _ := s.Incr(ctx, "fine"); n != 2 {
		t.Errorf("ops queued before the failure were dropped, counter = %d", n)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set(ctx, "short", "v", time.Second)
	s.Set(ctx, "long", "v", time.Hour)

	now = now.Add(time.Minute)
	s.Cleanup()

	if s.Len() != 1 {
		t.Errorf("Cleanup left %d entries, want 1", s.Len())
	}
}

func BenchmarkMemoryStore_Incr(b *testing.B) {
	ctx := context.Background()
	s := newTestStore()

	for i := 0; i < b.N; i++ {
		s.Incr(ctx, "bench")
	}
}

func BenchmarkMemoryStore_Keys(b *testing.B) {
	ctx := context.Background()
	s := newTestStore()
	for i := 0; i < 1000; i++ {
		s.Set(ctx, fmt.Sprintf("user:activity:%d", i), "1", time.Hour)
	}

	for i := 0; i < b.N; i++ {
		s.Keys(ctx, "user:activity:*")
	}
}
