package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type captureLogger struct {
	warnings []string
}

func (c *captureLogger) Warnf(format string, args ...interface{}) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *captureLogger) Errorf(format string, args ...interface{}) {}

func TestConnect_FallsBackWithoutConfig(t *testing.T) {
	t.Setenv(EnvRedisURL, "")
	t.Setenv(EnvRedisToken, "")

	logger := &captureLogger{}
	store := Connect(context.Background(), WithLogger(logger))

	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("Connect returned %T, want the in-process fallback", store)
	}
	if len(logger.warnings) == 0 {
		t.Error("fallback happened silently; a startup warning is required")
	}

	// The fallback must behave like any other backend.
	ctx := context.Background()
	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("fallback Set failed: %v", err)
	}
	if v, ok, _ := store.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("fallback Get returned (%q, %v)", v, ok)
	}
}

func TestConnect_FallsBackOnBadURL(t *testing.T) {
	t.Setenv(EnvRedisURL, "not-a-url")
	t.Setenv(EnvRedisToken, "token")

	logger := &captureLogger{}
	store := Connect(context.Background(), WithLogger(logger))

	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("Connect returned %T, want the in-process fallback", store)
	}
}

func TestConnect_FallsBackOnUnreachableServer(t *testing.T) {
	// A closed port on localhost fails the startup ping quickly.
	t.Setenv(EnvRedisURL, "redis://localhost:1")
	t.Setenv(EnvRedisToken, "token")

	logger := &captureLogger{}
	store := Connect(context.Background(), WithLogger(logger), WithTimeout(time.Second))

	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("Connect returned %T, want the in-process fallback", store)
	}
	if len(logger.warnings) == 0 {
		t.Error("unreachable backend fallback happened silently")
	}
}
