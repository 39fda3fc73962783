package conntrack

import (
	"sync"

	"relaywatch/internal/relay"
)

// Endpoint is one relay's presence at an address, as known from the
// current consensus.
type Endpoint struct {
	Port        uint16
	Fingerprint string
	Nickname    string
	IsDown      bool // consensus lists the relay without the Running flag
}

// Index maps remote addresses to the relays the consensus places there.
// Rebuilds assemble a fresh map and swap it in, so readers never observe
// a partially populated index.
type Index struct {
	mu     sync.RWMutex
	byAddr map[string][]Endpoint
}

func NewIndex() *Index {
	return &Index{byAddr: make(map[string][]Endpoint)}
}

// Rebuild replaces the entire index with the given consensus entries.
func (ix *Index) Rebuild(entries []relay.ConsensusEntry) {
	byAddr := make(map[string][]Endpoint, len(entries))
	for _, e := range entries {
		byAddr[e.Address] = append(byAddr[e.Address], Endpoint{
			Port:        e.ORPort,
			Fingerprint: e.Fingerprint,
			Nickname:    e.Nickname,
			IsDown:      e.IsDown,
		})
	}

	ix.mu.Lock()
	ix.byAddr = byAddr
	ix.mu.Unlock()
}

// Insert adds a single consensus entry, replacing any existing triple at
// the same address and OR port.
func (ix *Index) Insert(e relay.ConsensusEntry) {
	ep := Endpoint{Port: e.ORPort, Fingerprint: e.Fingerprint, Nickname: e.Nickname, IsDown: e.IsDown}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	eps := ix.byAddr[e.Address]
	for i := range eps {
		if eps[i].Port == e.ORPort {
			eps[i] = ep
			return
		}
	}
	ix.byAddr[e.Address] = append(eps, ep)
}

// RemoveFingerprint purges every entry referencing the fingerprint, across
// all addresses.
func (ix *Index) RemoveFingerprint(fingerprint string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for addr, eps := range ix.byAddr {
		kept := eps[:0]
		for _, ep := range eps {
			if ep.Fingerprint != fingerprint {
				kept = append(kept, ep)
			}
		}
		if len(kept) == 0 {
			delete(ix.byAddr, addr)
		} else {
			ix.byAddr[addr] = kept
		}
	}
}

// Lookup returns the candidate relays at an address. The returned slice
// is the caller's to keep.
func (ix *Index) Lookup(addr string) []Endpoint {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	eps := ix.byAddr[addr]
	if len(eps) == 0 {
		return nil
	}
	return append([]Endpoint(nil), eps...)
}
