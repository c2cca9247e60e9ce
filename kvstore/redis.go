package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed implementation of Store, backed by a
// go-redis client. Atomicity of Incr and batched Multi/Exec execution are
// delegated to Redis itself.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithOpTimeout bounds every store operation with a per-call deadline so a
// slow or unreachable Redis never stalls a request path. Consumers fail open
// when the deadline is exceeded. Default is 2 seconds.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = d }
}

// NewRedis creates a RedisStore around an existing client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := kvstore.NewRedis(client, kvstore.WithOpTimeout(time.Second))
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// opCtx derives the bounded context used for a single operation.
func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Expire reports false for absent keys; that is the documented no-op.
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// go-redis already maps the -1/-2 replies to the sentinel durations.
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisStore) Del(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Redis glob treats '?' and '[...]' specially; this layer's grammar is
	// '*'-only, so the extras are escaped to keep backends in agreement.
	return s.client.Keys(ctx, escapeRedisGlob(pattern)).Result()
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.LPush(ctx, key, args...).Err()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.SMembers(ctx, key).Result()
}

// Multi returns a builder backed by a Redis MULTI/EXEC pipeline.
func (s *RedisStore) Multi() Tx {
	return &redisTx{store: s, pipe: s.client.TxPipeline()}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.client.Ping(ctx).Err()
}

// redisTx queues commands on a TxPipeline. Command contexts at queue time
// are placeholders; go-redis only uses the context passed to Exec.
type redisTx struct {
	store   *RedisStore
	pipe    redis.Pipeliner
	results []func() int64
}

func (t *redisTx) Incr(key string) {
	cmd := t.pipe.Incr(context.Background(), key)
	t.results = append(t.results, cmd.Val)
}

func (t *redisTx) Expire(key string, ttl time.Duration) {
	cmd := t.pipe.Expire(context.Background(), key, ttl)
	t.results = append(t.results, func() int64 {
		if cmd.Val() {
			return 1
		}
		return 0
	})
}

func (t *redisTx) Del(key string) {
	cmd := t.pipe.Del(context.Background(), key)
	t.results = append(t.results, cmd.Val)
}

func (t *redisTx) Exec(ctx context.Context) ([]int64, error) {
	ctx, cancel := t.store.opCtx(ctx)
	defer cancel()

	if _, err := t.pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]int64, len(t.results))
	for i, val := range t.results {
		out[i] = val()
	}
	return out, nil
}
