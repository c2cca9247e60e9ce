package ratelimiter

import (
	"time"

	"github.com/jassus213/go-surgekit/metrics"
)

// Logger is a simple interface for logging.
// Users can provide their own logger that implements this interface.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a default logger that does nothing.
// It is used when no logger is provided by the user to avoid nil panics.
type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// Option is a function type that applies a configuration setting to a
// Limiter. It's the core of the Functional Options Pattern.
type Option func(*Limiter)

// WithLimits replaces the whole per-class budget table.
func WithLimits(limits map[Class]Limit) Option {
	return func(l *Limiter) {
		if len(limits) > 0 {
			l.limits = limits
		}
	}
}

// WithLimit overrides the budget of a single endpoint class.
func WithLimit(class Class, limit Limit) Option {
	return func(l *Limiter) {
		l.limits[class] = limit
	}
}

// WithPrefix sets the key prefix for counters (default "ratelimit:").
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithTimeout bounds each Check call; an elapsed deadline fails open
// (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger returns an Option that sets a custom logger.
func WithLogger(logger Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRecorder injects a metrics backend for check/denial counters and
// check latency.
func WithRecorder(r metrics.Recorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.recorder = r
		}
	}
}
