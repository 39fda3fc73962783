package hostname

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	lookupTimeout = 3 * time.Second
	maxConcurrent = 10
)

// Resolver performs reverse DNS lookups in the background and serves
// results from a cache. Resolve never blocks: an address seen for the
// first time schedules a lookup and reports no hostname until it lands.
type Resolver struct {
	limiter *rate.Limiter
	sem     chan struct{}
	lookup  func(ctx context.Context, addr string) ([]string, error)

	mu      sync.Mutex
	cache   map[string]string
	pending map[string]bool
	paused  bool
}

// New returns a resolver backed by the system DNS.
func New() *Resolver {
	return &Resolver{
		limiter: rate.NewLimiter(rate.Limit(20), maxConcurrent),
		sem:     make(chan struct{}, maxConcurrent),
		lookup:  new(net.Resolver).LookupAddr,
		cache:   make(map[string]string),
		pending: make(map[string]bool),
	}
}

// Resolve returns the hostname for addr, or "" while resolution is
// pending, has failed, or the resolver is paused.
func (r *Resolver) Resolve(addr string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if host, ok := r.cache[addr]; ok {
		return host
	}
	if r.paused || r.pending[addr] {
		return ""
	}
	r.pending[addr] = true
	go r.resolve(addr)
	return ""
}

// SetPaused stops scheduling new lookups while leaving cached results
// available. In-flight lookups still complete.
func (r *Resolver) SetPaused(paused bool) {
	r.mu.Lock()
	r.paused = paused
	r.mu.Unlock()
}

func (r *Resolver) resolve(addr string) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		// Rate limited out of the lookup window; retry on next Resolve.
		r.mu.Lock()
		delete(r.pending, addr)
		r.mu.Unlock()
		return
	}
	names, err := r.lookup(ctx, addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, addr)
	if err != nil || len(names) == 0 {
		// Negative result is cached so unresolvable addresses are not
		// retried every redraw.
		r.cache[addr] = ""
		return
	}
	r.cache[addr] = strings.TrimSuffix(names[0], ".")
}
