package ratelimiter

import (
	"context"
	"strconv"
	"time"
)

// Check reports whether one more request from identifier is within the
// budget of class.
//
// The counter is read first so a saturated window is rejected without a
// write, then incremented together with the window TTL. The TTL is only
// established when the increment created the counter, so later requests in
// the same window never push the boundary out.
//
// Any store error yields Allowed=true: rate limiting must never be the
// reason the system as a whole fails closed.
func (l *Limiter) Check(ctx context.Context, identifier string, class Class) Result {
	if identifier == "" {
		identifier = AnonymousIdentifier
	}
	limit := l.limitFor(class)
	key := l.key(identifier, class)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		l.recorder.Observe("ratelimit.latency", time.Since(start).Seconds(), nil)
	}()
	l.recorder.Add("ratelimit.check", 1, map[string]string{"class": string(class)})

	var current int64
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return l.failOpen(key, limit, err)
	}
	if ok {
		current, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return l.failOpen(key, limit, err)
		}
	}

	now := time.Now()
	if current >= limit.Requests {
		l.recorder.Add("ratelimit.denied", 1, map[string]string{"class": string(class)})
		l.logger.Debugf("rate limit hit for %q: %d/%d", key, current, limit.Requests)
		return Result{
			Allowed:   false,
			Limit:     limit.Requests,
			Remaining: 0,
			ResetAt:   l.resetAt(ctx, key, now, limit.Window),
		}
	}

	tx := l.store.Multi()
	tx.Incr(key)
	results, err := tx.Exec(ctx)
	if err != nil || len(results) == 0 {
		return l.failOpen(key, limit, err)
	}
	newCount := results[0]

	// First request of the window owns the boundary.
	if newCount == 1 {
		if err := l.store.Expire(ctx, key, limit.Window); err != nil {
			l.logger.Errorf("failed to set window TTL for %q: %v", key, err)
		}
	}

	remaining := limit.Requests - newCount
	if remaining < 0 {
		// A concurrent burst raced past the read; deny the overflow.
		l.recorder.Add("ratelimit.denied", 1, map[string]string{"class": string(class)})
		return Result{
			Allowed:   false,
			Limit:     limit.Requests,
			Remaining: 0,
			ResetAt:   l.resetAt(ctx, key, now, limit.Window),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetAt:   l.resetAt(ctx, key, now, limit.Window),
	}
}

// resetAt derives the window boundary from the counter's remaining TTL,
// falling back to a full window when the TTL is unavailable.
func (l *Limiter) resetAt(ctx context.Context, key string, now time.Time, window time.Duration) time.Time {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return now.Add(window)
	}
	return now.Add(ttl)
}

// failOpen converts a store failure into a permissive result.
func (l *Limiter) failOpen(key string, limit Limit, err error) Result {
	l.recorder.Add("ratelimit.fail_open", 1, nil)
	l.logger.Errorf("rate limit check failed for %q, allowing request: %v", key, err)
	return Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests,
		ResetAt:   time.Now().Add(limit.Window),
	}
}
