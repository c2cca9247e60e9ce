package kvstore

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Environment variables consumed once at startup by Connect.
const (
	// EnvRedisURL is the Redis connection URL, e.g. "redis://host:6379/0".
	EnvRedisURL = "REDIS_URL"
	// EnvRedisToken is the access token used as the connection password.
	EnvRedisToken = "REDIS_TOKEN"
)

// ConnectConfig holds the settings Connect applies when building a backend.
type ConnectConfig struct {
	Logger          Logger
	OpTimeout       time.Duration
	CleanupInterval time.Duration
}

// ConnectOption adjusts ConnectConfig.
type ConnectOption func(*ConnectConfig)

// WithLogger sets the logger used for the fallback warning and later
// backend errors. Defaults to a no-op logger.
func WithLogger(l Logger) ConnectOption {
	return func(c *ConnectConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTimeout sets the per-operation deadline applied to the Redis backend
// and to the startup liveness probe.
func WithTimeout(d time.Duration) ConnectOption {
	return func(c *ConnectConfig) { c.OpTimeout = d }
}

// WithCleanupInterval sets how often the in-process fallback sweeps expired
// entries. Pass 0 to rely on lazy expiry alone.
func WithCleanupInterval(d time.Duration) ConnectOption {
	return func(c *ConnectConfig) { c.CleanupInterval = d }
}

// Connect builds the process-wide Store from the environment.
//
// When REDIS_URL and REDIS_TOKEN are both present and the server answers a
// ping, the returned Store is Redis-backed. Otherwise Connect logs a warning
// and returns a MemoryStore; callers observe no other behavioral difference.
//
// ctx bounds the lifetime of the fallback store's sweep goroutine.
func Connect(ctx context.Context, opts ...ConnectOption) Store {
	cfg := &ConnectConfig{
		Logger:          noopLogger{},
		OpTimeout:       2 * time.Second,
		CleanupInterval: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	url := os.Getenv(EnvRedisURL)
	token := os.Getenv(EnvRedisToken)
	if url == "" || token == "" {
		cfg.Logger.Warnf("kvstore: %s or %s not set, using in-process store (state is lost on restart)", EnvRedisURL, EnvRedisToken)
		return NewMemory(ctx, cfg.CleanupInterval)
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		cfg.Logger.Warnf("kvstore: invalid %s (%v), using in-process store", EnvRedisURL, err)
		return NewMemory(ctx, cfg.CleanupInterval)
	}
	opt.Password = token

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cfg.Logger.Warnf("kvstore: redis unreachable (%v), using in-process store", err)
		_ = client.Close()
		return NewMemory(ctx, cfg.CleanupInterval)
	}

	return NewRedis(client, WithOpTimeout(cfg.OpTimeout))
}
