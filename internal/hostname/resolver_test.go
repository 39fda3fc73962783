package hostname

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/time/rate"
)

func newTestResolver(lookup func(ctx context.Context, addr string) ([]string, error)) *Resolver {
	return &Resolver{
		limiter: rate.NewLimiter(rate.Inf, 1),
		sem:     make(chan struct{}, 1),
		lookup:  lookup,
		cache:   make(map[string]string),
		pending: make(map[string]bool),
	}
}

func TestResolveCachesResult(t *testing.T) {
	release := make(chan struct{})
	r := newTestResolver(func(ctx context.Context, addr string) ([]string, error) {
		<-release
		return []string{"relay.example.net."}, nil
	})

	// First access schedules the lookup and reports nothing yet.
	if got := r.Resolve("1.2.3.4"); got != "" {
		t.Fatalf("Resolve before completion = %q, want empty", got)
	}
	// Re-requesting an in-flight address does not reschedule.
	if got := r.Resolve("1.2.3.4"); got != "" {
		t.Fatalf("Resolve while pending = %q, want empty", got)
	}

	close(release)
	// The semaphore slot frees only after the result lands in the cache.
	r.sem <- struct{}{}

	if got := r.Resolve("1.2.3.4"); got != "relay.example.net" {
		t.Fatalf("Resolve = %q, want relay.example.net", got)
	}
}

func TestResolveCachesNegative(t *testing.T) {
	calls := 0
	r := newTestResolver(func(ctx context.Context, addr string) ([]string, error) {
		calls++
		return nil, errors.New("nxdomain")
	})

	r.resolve("1.2.3.4")
	if got := r.Resolve("1.2.3.4"); got != "" {
		t.Fatalf("Resolve = %q, want empty", got)
	}
	// The failure is cached; no second lookup is scheduled.
	if calls != 1 {
		t.Fatalf("lookup called %d times, want 1", calls)
	}
	r.mu.Lock()
	pending := len(r.pending)
	r.mu.Unlock()
	if pending != 0 {
		t.Fatalf("%d lookups left pending", pending)
	}
}

func TestResolvePaused(t *testing.T) {
	calls := 0
	r := newTestResolver(func(ctx context.Context, addr string) ([]string, error) {
		calls++
		return []string{"relay.example.net."}, nil
	})

	r.SetPaused(true)
	if got := r.Resolve("1.2.3.4"); got != "" {
		t.Fatalf("Resolve while paused = %q, want empty", got)
	}
	r.mu.Lock()
	pending := len(r.pending)
	r.mu.Unlock()
	if pending != 0 {
		t.Fatal("paused resolver scheduled a lookup")
	}

	// Cached answers stay available while paused.
	r.SetPaused(false)
	r.resolve("1.2.3.4")
	r.SetPaused(true)
	if got := r.Resolve("1.2.3.4"); got != "relay.example.net" {
		t.Fatalf("cached Resolve while paused = %q", got)
	}
}
