package conntrack

import (
	"strings"
	"sync"

	"github.com/decred/dcrd/container/lru"

	"relaywatch/internal/relay"
)

// Unknown is the explicit sentinel for identities that cannot be
// resolved. It is cached like any other result: ambiguity is a stable
// answer until the index changes.
const Unknown = "UNKNOWN"

// resolverCacheLimit bounds each resolution cache. A relay rarely talks
// to more endpoints than this between consensus refreshes.
const resolverCacheLimit = 8192

// ControlClient is the subset of the control protocol consulted by the
// tracker. Implemented by *relay.Controller; tests substitute fakes.
type ControlClient interface {
	Consensus() ([]relay.ConsensusEntry, error)
	NetworkStatus(fingerprint string) ([]relay.ConsensusEntry, error)
	Descriptor(fingerprint string) (*relay.Descriptor, error)
	Option(name string) (string, error)
	Info(key string) (string, error)
	CountryCode(address string) (string, error)
}

type selfEntry struct {
	addr        string
	port        uint16
	fingerprint string
}

// nickEntry records the fingerprint a nickname was resolved through. The
// two caches evict independently, so a cached nickname is only served
// while its fingerprint still matches the current resolution.
type nickEntry struct {
	fingerprint string
	nickname    string
}

// Resolver maps remote endpoints to relay identities using the identity
// index, disambiguation heuristics and a two level cache. Cache entries
// are invalidated by protocol events, never by time.
type Resolver struct {
	client ControlClient
	index  *Index

	fpCache   *lru.Map[hostPort, string]
	nickCache *lru.Map[hostPort, nickEntry]

	mu        sync.Mutex
	self      *selfEntry // the node's own endpoint, nil when unknown
	liveConns []string   // relays in the current OR connection listing
	liveOK    bool       // listing was obtainable
	liveValid bool
}

func NewResolver(client ControlClient, index *Index) *Resolver {
	return &Resolver{
		client:    client,
		index:     index,
		fpCache:   lru.NewMap[hostPort, string](resolverCacheLimit),
		nickCache: lru.NewMap[hostPort, nickEntry](resolverCacheLimit),
	}
}

// SetSelf records the node's own endpoint so lookups against it resolve
// directly, bypassing cache and heuristics.
func (r *Resolver) SetSelf(addr string, port uint16, fingerprint string) {
	r.mu.Lock()
	r.self = &selfEntry{addr: addr, port: port, fingerprint: fingerprint}
	r.mu.Unlock()
}

// ClearSelf forgets the node's own endpoint.
func (r *Resolver) ClearSelf() {
	r.mu.Lock()
	r.self = nil
	r.mu.Unlock()
}

// Fingerprint returns the best effort fingerprint for an endpoint, or
// Unknown. Results, including Unknown, are cached until invalidated.
func (r *Resolver) Fingerprint(addr string, port uint16) string {
	r.mu.Lock()
	if s := r.self; s != nil && s.addr == addr && s.port == port {
		r.mu.Unlock()
		return s.fingerprint
	}
	r.mu.Unlock()

	key := hostPort{addr, port}
	if fp, ok := r.fpCache.Get(key); ok {
		return fp
	}

	fp := r.matchFingerprint(addr, port)
	r.fpCache.Put(key, fp)
	return fp
}

// Nickname returns the nickname for an endpoint, or Unknown. An unknown
// fingerprint or a failed status lookup is not cached, so the answer is
// re-derived on the next access.
func (r *Resolver) Nickname(addr string, port uint16) string {
	fp := r.Fingerprint(addr, port)
	if fp == Unknown {
		return Unknown
	}

	key := hostPort{addr, port}
	if e, ok := r.nickCache.Get(key); ok && e.fingerprint == fp {
		return e.nickname
	}

	ns, err := r.client.NetworkStatus(fp)
	if err != nil || len(ns) == 0 {
		return Unknown
	}
	nick := ns[0].Nickname
	r.nickCache.Put(key, nickEntry{fingerprint: fp, nickname: nick})
	return nick
}

// matchFingerprint disambiguates among the index candidates for an
// address. With several candidates an exact port match wins; failing
// that, relays the consensus no longer lists as Running or whose
// descriptor reports them down or hibernating are eliminated, then relays
// absent from the live OR connection listing when one was obtainable.
// Anything still ambiguous stays unknown.
func (r *Resolver) matchFingerprint(addr string, port uint16) string {
	candidates := r.index.Lookup(addr)
	if len(candidates) == 0 {
		return Unknown
	}
	if len(candidates) == 1 {
		return candidates[0].Fingerprint
	}

	for _, c := range candidates {
		if c.Port == port {
			return c.Fingerprint
		}
	}

	live, haveLive := r.liveConnections()
	remaining := make([]Endpoint, 0, len(candidates))
	for _, c := range candidates {
		drop := c.IsDown
		if !drop {
			if desc, err := r.client.Descriptor(c.Fingerprint); err == nil {
				drop = desc.Down()
			}
		}
		if !drop && haveLive && !contains(live, c.Nickname) {
			drop = true
		}
		if !drop {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 1 {
		return remaining[0].Fingerprint
	}
	return Unknown
}

// liveConnections returns the relays named by the live OR connection
// listing, recomputing it when the cached copy has been invalidated. The
// second return is false when the listing is unobtainable, which disables
// the liveness filter rather than guessing.
func (r *Resolver) liveConnections() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.liveValid {
		return r.liveConns, r.liveOK
	}
	r.liveValid = true
	r.liveConns, r.liveOK = nil, false

	info, err := r.client.Info("orconn-status")
	if err != nil {
		return nil, false
	}
	// Tokens alternate between relay name and connection status.
	fields := strings.Fields(info)
	for i := 0; i < len(fields); i += 2 {
		r.liveConns = append(r.liveConns, fields[i])
	}
	r.liveOK = true
	return r.liveConns, true
}

// InvalidateAll drops every cached resolution and the live connection
// listing. Called when the consensus is rebuilt wholesale.
func (r *Resolver) InvalidateAll() {
	r.fpCache.Clear()
	r.nickCache.Clear()
	r.InvalidateLiveConns()
}

// InvalidateFingerprint purges every cache entry that resolved to the
// fingerprint. The caches evict independently, so each is scanned on its
// own; a stale fingerprint-to-nickname mapping is strictly worse than a
// miss.
func (r *Resolver) InvalidateFingerprint(fingerprint string) {
	for _, key := range r.fpCache.Keys() {
		if cached, ok := r.fpCache.Peek(key); ok && cached == fingerprint {
			r.fpCache.Delete(key)
		}
	}
	for _, key := range r.nickCache.Keys() {
		if e, ok := r.nickCache.Peek(key); ok && e.fingerprint == fingerprint {
			r.nickCache.Delete(key)
		}
	}
}

// InvalidateLiveConns marks the live OR connection listing stale.
func (r *Resolver) InvalidateLiveConns() {
	r.mu.Lock()
	r.liveValid = false
	r.mu.Unlock()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
