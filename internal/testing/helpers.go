package testing

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestContext returns a context with a reasonable timeout for tests.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SteppingClock returns a clock that advances by step on every call.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}
