// Package cache provides the domain-facing cache manager: named resource
// caches with fixed TTL policies over the kvstore layer.
//
// Each cache kind (a places listing, a user session, a computed route) maps
// to a fixed TTL; keys are derived from the kind plus caller-supplied key
// parts, and values are JSON-encoded opaquely. Reads are fail-open: any
// store or decode problem is reported as a miss, never as an error, so a
// broken cache only ever makes requests slower, not incorrect.
//
// Example:
//
//	mgr := cache.NewManager(store, cache.WithLogger(logger))
//	var listing []Place
//	if !mgr.Get(ctx, cache.KindPlaces, &listing, userID, "20") {
//		listing = loadPlaces(ctx, userID, 20)
//		mgr.Set(ctx, cache.KindPlaces, listing, userID, "20")
//	}
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jassus213/go-surgekit/kvstore"
)

// Built-in cache kinds and their TTL policies.
const (
	// KindPlaces caches resource listings, keyed by requester identity and
	// page size.
	KindPlaces = "places"
	// KindSession caches session/user records, keyed by principal ID.
	KindSession = "session"
	// KindRoute caches computed routes, keyed by (origin, destination).
	// The pair is order-sensitive: routes are not symmetric, so a swapped
	// pair is a miss by design.
	KindRoute = "route"
)

func defaultPolicies() map[string]time.Duration {
	return map[string]time.Duration{
		KindPlaces:  300 * time.Second,
		KindSession: 600 * time.Second,
		KindRoute:   180 * time.Second,
	}
}

// fallbackTTL applies to kinds registered implicitly by a Set on an unknown
// kind.
const fallbackTTL = 300 * time.Second

// Logger is the logging contract for cache write/invalidation failures.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// Manager applies fixed TTL policies to named resource caches.
// A cache entry is all-or-nothing for a given key shape; there is no
// partial-result merging.
type Manager struct {
	store    kvstore.Store
	policies map[string]time.Duration
	logger   Logger
	group    singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for dropped writes and invalidation failures.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPolicy registers or overrides the TTL for a cache kind.
func WithPolicy(kind string, ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.policies[kind] = ttl
	}
}

// NewManager creates a Manager over store with the built-in kind policies.
func NewManager(store kvstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		policies: defaultPolicies(),
		logger:   &noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterKind registers or overrides the TTL policy for a cache kind.
// Call it before the Manager is shared across goroutines.
func (m *Manager) RegisterKind(kind string, ttl time.Duration) {
	m.policies[kind] = ttl
}

// key derives the storage key for a kind and its key parts.
func (m *Manager) key(kind string, parts []string) string {
	return "cache:" + kind + ":" + strings.Join(parts, ":")
}

func (m *Manager) ttl(kind string) time.Duration {
	if ttl, ok := m.policies[kind]; ok {
		return ttl
	}
	return fallbackTTL
}

// Get loads the cached value for (kind, parts...) into dest and reports
// whether it was a hit. Store errors and undecodable payloads are misses.
func (m *Manager) Get(ctx context.Context, kind string, dest interface{}, parts ...string) bool {
	key := m.key(kind, parts)

	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Errorf("cache read for %q failed, treating as miss: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		m.logger.Errorf("cache entry %q is not decodable, treating as miss: %v", key, err)
		return false
	}
	return true
}

// Set stores value under (kind, parts...) with the kind's fixed TTL.
// Write failures are logged and dropped.
func (m *Manager) Set(ctx context.Context, kind string, value interface{}, parts ...string) {
	key := m.key(kind, parts)

	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Errorf("cache value for %q is not encodable, dropping write: %v", key, err)
		return
	}
	if err := m.store.Set(ctx, key, string(raw), m.ttl(kind)); err != nil {
		m.logger.Errorf("cache write for %q failed, dropping: %v", key, err)
	}
}

// Invalidate proactively deletes the cache entry for (kind, parts...).
// Call it on every write to the underlying resource so readers never observe
// stale data beyond one write's causal window. Failures are logged, not
// raised; the entry still expires by TTL.
func (m *Manager) Invalidate(ctx context.Context, kind string, parts ...string) {
	key := m.key(kind, parts)

	if _, err := m.store.Del(ctx, key); err != nil {
		m.logger.Errorf("cache invalidation for %q failed: %v", key, err)
	}
}

// Fetch returns the cached value for (kind, parts...) or computes it with
// loader and caches the result. Concurrent misses for the same key collapse
// into a single loader call. A loader error is returned to every waiting
// caller and nothing is cached.
func (m *Manager) Fetch(ctx context.Context, kind string, dest interface{}, loader func(ctx context.Context) (interface{}, error), parts ...string) error {
	if m.Get(ctx, kind, dest, parts...) {
		return nil
	}

	key := m.key(kind, parts)
	raw, err, _ := m.group.Do(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := m.store.Set(ctx, key, string(encoded), m.ttl(kind)); err != nil {
			m.logger.Errorf("cache write for %q failed, dropping: %v", key, err)
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}
