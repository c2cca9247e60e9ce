// Package gin wires the rate-limit gate and the telemetry sink into a Gin
// middleware with the same semantics as the net/http variant.
package gin

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-surgekit/analytics"
	"github.com/jassus213/go-surgekit/ratelimiter"
)

// KeyFunc extracts the identifier to rate-limit on. Returning "" falls back
// to the shared anonymous bucket.
type KeyFunc func(c *gin.Context) string

// ClassFunc maps a request to its endpoint class.
type ClassFunc func(c *gin.Context) ratelimiter.Class

// Config holds the middleware settings, applied via functional options.
type Config struct {
	KeyFunc   KeyFunc
	ClassFunc ClassFunc
}

// Option applies a configuration setting to a Config struct.
type Option func(*Config)

// WithKeyFunc sets a custom function for client identification, e.g. an
// authenticated user ID pulled from the Gin context.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithClassFunc sets the endpoint-class mapping.
func WithClassFunc(f ClassFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.ClassFunc = f
		}
	}
}

// RateLimiter creates a Gin middleware handler.
//
// It checks each request against limiter before the route handler runs,
// adds the standard `X-RateLimit-*` headers, and rejects over-budget
// requests with 429 and a Retry-After hint. After the handler completes,
// the outcome is reported to agg in a detached goroutine so telemetry never
// blocks the response path. agg may be nil to disable telemetry.
//
// Example:
//
//	limiter := ratelimiter.New(store)
//	agg := analytics.New(store)
//	router := gin.Default()
//	router.Use(ginmw.RateLimiter(limiter, agg))
func RateLimiter(limiter *ratelimiter.Limiter, agg *analytics.Aggregator, options ...Option) gin.HandlerFunc {
	cfg := &Config{
		KeyFunc:   func(c *gin.Context) string { return c.ClientIP() },
		ClassFunc: func(c *gin.Context) ratelimiter.Class { return ratelimiter.ClassGeneral },
	}
	for _, opt := range options {
		opt(cfg)
	}

	return func(c *gin.Context) {
		key := cfg.KeyFunc(c)
		class := cfg.ClassFunc(c)

		result := limiter.Check(c.Request.Context(), key, class)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int(math.Ceil(time.Until(result.ResetAt).Seconds()))
			if retryAfter <= 0 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatus(http.StatusTooManyRequests)
			report(agg, key, c.FullPath(), 0, http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		c.Next()
		report(agg, key, c.FullPath(), time.Since(start), c.Writer.Status())
	}
}

// report delivers telemetry fire-and-forget on a fresh context, detached
// from the request lifetime.
func report(agg *analytics.Aggregator, key, endpoint string, duration time.Duration, status int) {
	if agg == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		agg.RecordRequest(ctx, endpoint, duration)
		if status >= 400 {
			agg.RecordError(ctx, errorType(status), endpoint)
		}
		agg.RecordActivity(ctx, key)
	}()
}

// errorType buckets a response status for the error counters.
func errorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return "timeout"
	case status >= 500:
		return "server"
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return "validation"
	default:
		return "client"
	}
}
