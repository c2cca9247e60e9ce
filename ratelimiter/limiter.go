// Package ratelimiter provides per-identifier, fixed-window request limiting
// on top of the kvstore layer.
//
// The algorithm is a fixed window: each (endpoint class, identifier) pair
// owns a counter keyed under "ratelimit:", and the counter's TTL marks the
// window boundary. The counter is incremented atomically through the store,
// so the limiter enforces a single shared budget whether the store is the
// in-process fallback or Redis across many replicas.
//
// Error policy is fail-open: a store failure or timeout during a check never
// blocks the request. Check therefore returns no error; failures are logged
// and counted through the injected Logger and metrics.Recorder.
//
// Example:
//
//	limiter := ratelimiter.New(store, ratelimiter.WithLogger(logger))
//	res := limiter.Check(ctx, clientID, ratelimiter.ClassAuth)
//	if !res.Allowed {
//		// reject with Retry-After derived from res.ResetAt
//	}
package ratelimiter

import (
	"time"

	"github.com/jassus213/go-surgekit/kvstore"
	"github.com/jassus213/go-surgekit/metrics"
)

// Class groups endpoints that share a request budget.
type Class string

// Built-in endpoint classes with their default budgets; see DefaultLimits.
const (
	ClassListing Class = "listing"
	ClassAuth    Class = "auth"
	ClassSearch  Class = "search"
	ClassUpload  Class = "upload"
	ClassGeneral Class = "general"
)

// AnonymousIdentifier is used when neither a principal ID nor a client
// address is known. All anonymous traffic then shares one bucket per class;
// an intentional trade-off, since unattributable requests cannot be budgeted
// individually anyway.
const AnonymousIdentifier = "anonymous"

// Limit is the budget for one endpoint class: Requests per Window.
type Limit struct {
	Requests int64
	Window   time.Duration
}

// DefaultLimits returns the static per-class budget table. Unknown classes
// fall back to ClassGeneral.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassListing: {Requests: 500, Window: time.Minute},
		ClassAuth:    {Requests: 50, Window: time.Minute},
		ClassSearch:  {Requests: 200, Window: time.Minute},
		ClassUpload:  {Requests: 100, Window: time.Minute},
		ClassGeneral: {Requests: 1000, Window: time.Second},
	}
}

// Result contains the outcome of a rate limit check.
// It provides the necessary data to populate standard rate-limiting HTTP headers.
type Result struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Limit is the total number of requests allowed in the current window.
	Limit int64
	// Remaining is the number of requests left in the current window.
	Remaining int64
	// ResetAt is when the current window expires and the budget resets.
	ResetAt time.Time
}

// Limiter checks requests against per-class fixed-window budgets.
type Limiter struct {
	store    kvstore.Store
	limits   map[Class]Limit
	prefix   string
	timeout  time.Duration
	logger   Logger
	recorder metrics.Recorder
}

// New creates a Limiter over the given store with DefaultLimits, adjustable
// through functional options.
//
// Example:
//
//	limiter := ratelimiter.New(store,
//		ratelimiter.WithLimit(ratelimiter.ClassAuth, ratelimiter.Limit{Requests: 2, Window: time.Minute}),
//		ratelimiter.WithRecorder(recorder),
//	)
func New(store kvstore.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		limits:   DefaultLimits(),
		prefix:   "ratelimit:",
		timeout:  2 * time.Second,
		logger:   &noopLogger{},
		recorder: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// limitFor resolves the budget for class, falling back to ClassGeneral.
func (l *Limiter) limitFor(class Class) Limit {
	if lim, ok := l.limits[class]; ok {
		return lim
	}
	return l.limits[ClassGeneral]
}

// key builds the counter key for one (class, identifier) pair.
func (l *Limiter) key(identifier string, class Class) string {
	return l.prefix + string(class) + ":" + identifier
}
