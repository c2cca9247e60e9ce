// Package nethttp wires the rate-limit gate and the telemetry sink into a
// standard `net/http` middleware.
package nethttp

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jassus213/go-surgekit/analytics"
	"github.com/jassus213/go-surgekit/ratelimiter"
)

// KeyFunc extracts the identifier to rate-limit on: the authenticated
// principal's stable ID when known, else a client network address. Returning
// "" falls back to the shared anonymous bucket.
type KeyFunc func(r *http.Request) string

// ClassFunc maps a request to its endpoint class.
type ClassFunc func(r *http.Request) ratelimiter.Class

// ErrorHandler writes the rejection response when a request is over budget.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, result ratelimiter.Result)

// Logger is a simple interface for logging.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// Config holds all configurable parameters for the middleware.
// It is an internal struct that users interact with via functional options.
type Config struct {
	KeyFunc      KeyFunc
	ClassFunc    ClassFunc
	ErrorHandler ErrorHandler
	Logger       Logger
}

// Option applies a configuration setting to a Config struct.
type Option func(*Config)

// NewConfig creates a Config with defaults and applies the given options.
// The default identifier is the client address without the port; the default
// class is ratelimiter.ClassGeneral; the default rejection is a plain 429
// with a Retry-After hint.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		KeyFunc: func(r *http.Request) string {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				return r.RemoteAddr
			}
			return host
		},
		ClassFunc: func(r *http.Request) ratelimiter.Class {
			return ratelimiter.ClassGeneral
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, result ratelimiter.Result) {
			retryAfter := int(math.Ceil(time.Until(result.ResetAt).Seconds()))
			if retryAfter <= 0 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		},
		Logger: &noopLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithKeyFunc sets a custom function for client identification, e.g. an API
// key or an authenticated user ID.
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

// WithErrorHandler sets a custom handler for rejected requests.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithLogger returns an Option that sets a custom logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
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

// Middleware creates a middleware handler for the standard `net/http`
// library.
//
// Before the wrapped handler runs, the request is checked against limiter
// and the standard `X-RateLimit-*` headers are added; over-budget requests
// are rejected through the configured ErrorHandler. After the response is
// written, the outcome (duration, status, identifier) is reported to agg in
// a detached goroutine so telemetry never blocks or fails the response
// path. agg may be nil to disable telemetry.
//
// Example:
//
//	limiter := ratelimiter.New(store)
//	agg := analytics.New(store)
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", myHandler)
//	http.ListenAndServe(":8080", nethttp.Middleware(limiter, agg)(mux))
func Middleware(limiter *ratelimiter.Limiter, agg *analytics.Aggregator, options ...Option) func(http.Handler) http.Handler {
	cfg := NewConfig(options...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)
			class := cfg.ClassFunc(r)

			result := limiter.Check(r.Context(), key, class)

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				cfg.Logger.Debugf(
					"Request denied for key '%s'. Remaining: %d, Limit: %d",
					key, result.Remaining, result.Limit,
				)
				cfg.ErrorHandler(w, r, result)
				report(agg, key, r.URL.Path, 0, http.StatusTooManyRequests)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			report(agg, key, r.URL.Path, time.Since(start), rec.status)
		})
	}
}

// report delivers telemetry fire-and-forget. The response has already been
// written, so a fresh context detaches the writes from the request lifetime.
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
