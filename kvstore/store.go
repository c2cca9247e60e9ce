// Package kvstore provides the key/value storage layer for go-surgekit.
//
// Two interchangeable backends implement the Store interface:
//   - MemoryStore: a process-local store for single-instance deployments,
//     tests, and as the automatic fallback when Redis is not configured
//   - RedisStore: a Redis-backed store for distributed deployments
//
// Callers (rate limiter, cache manager, analytics aggregator) are written
// against Store and never observe which backend they were given. Both
// backends expose Redis semantics: values are strings, counters are decimal
// integers stored as strings, expired keys behave exactly like absent keys.
//
// Example usage:
//
//	ctx := context.Background()
//	store := kvstore.Connect(ctx, kvstore.WithLogger(logger))
//	_ = store.Set(ctx, "greeting", "hello", time.Minute)
package kvstore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is applied by Set when the caller passes a non-positive TTL.
// Entries written through this layer are short-lived caches, never permanent
// state, so "no TTL given" still expires eventually.
const DefaultTTL = 24 * time.Hour

// TTL sentinels, following the Redis convention.
const (
	// TTLNone reports a key that exists but has no expiry.
	TTLNone = time.Duration(-1)
	// TTLMissing reports a key that does not exist (or has expired).
	TTLMissing = time.Duration(-2)
)

// ErrWrongType is returned when a list or set operation targets a key
// holding a plain string value, or vice versa.
var ErrWrongType = errors.New("kvstore: operation against a key holding the wrong kind of value")

// ErrNotInteger is returned by Incr when the stored value cannot be parsed
// as a decimal integer.
var ErrNotInteger = errors.New("kvstore: value is not an integer")

// Store is the storage contract shared by all backends.
//
// Any operation may fail with a backend error (network, timeout). Consumers
// of this interface are expected to treat such failures as fail-open: a
// failed rate-limit check allows the request, a failed cache read is a miss,
// a failed metric write is logged and dropped.
type Store interface {
	// Get retrieves the value for key. The boolean is false when the key is
	// absent or expired; expired entries are never returned.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A non-positive ttl applies DefaultTTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer stored at key and returns the
	// new value. Absent or expired keys start at 0. Incr does not set a TTL;
	// callers establish the window with a subsequent Expire.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets or overwrites the TTL of an existing key. It is a no-op
	// when the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, TTLNone when the key has no
	// expiry, or TTLMissing when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes key and reports whether it existed.
	Del(ctx context.Context, key string) (bool, error)

	// Keys returns all keys matching pattern. The pattern grammar supports
	// only '*' as a multi-character wildcard; every other character matches
	// literally. Callers rely on prefix scans such as "errors:*:*".
	Keys(ctx context.Context, pattern string) ([]string, error)

	// LPush prepends values to the list stored at key, creating it if needed.
	LPush(ctx context.Context, key string, values ...string) error

	// LTrim trims the list at key to the inclusive range [start, stop].
	// Negative indexes count from the end, so stop = -1 keeps through the
	// last element.
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns the inclusive range [start, stop] of the list at key.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SAdd adds members to the set stored at key, creating it if needed.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set stored at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SCard returns the number of members in the set stored at key.
	SCard(ctx context.Context, key string) (int64, error)

	// SMembers returns all members of the set stored at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Multi returns a transaction builder that queues Incr/Expire/Del calls
	// and executes them as a unit via Exec. See Tx for the atomicity caveat.
	Multi() Tx

	// Ping probes backend liveness.
	Ping(ctx context.Context) error
}

// Tx queues operations for batched execution.
//
// RedisStore executes the batch as a MULTI/EXEC transaction. MemoryStore
// executes the queued operations sequentially under the store lock; other
// goroutines cannot interleave, but a mid-batch error leaves earlier
// operations applied. That weaker guarantee is deliberate: callers only
// depend on the atomicity of the individual Incr step, never on the batch
// as a whole.
type Tx interface {
	Incr(key string)
	Expire(key string, ttl time.Duration)
	Del(key string)

	// Exec runs the queued operations and returns one int64 per operation:
	// the new counter value for Incr, 1/0 for Expire and Del depending on
	// whether the key existed. A single error covers the whole batch;
	// operations are never silently dropped.
	Exec(ctx context.Context) ([]int64, error)
}

// Logger is the minimal logging contract this package needs. The adapters
// subpackages provide implementations for zap, zerolog, logrus and the
// standard library.
type Logger interface {
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is used when no logger is provided to avoid nil checks.
type noopLogger struct{}

func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}
