package conntrack

import (
	"strings"
	"sync"
)

// ClientSet tracks the relays currently serving as first hops of the
// node's own circuits, each named by nickname or $fingerprint. The set is
// recomputed lazily: a circuit status event marks it stale and the next
// read rebuilds it from the control client.
type ClientSet struct {
	client ControlClient

	mu      sync.Mutex
	members []string
	fresh   bool
}

func NewClientSet(client ControlClient) *ClientSet {
	return &ClientSet{client: client}
}

// Invalidate marks the cached set stale. Safe to call repeatedly.
func (cs *ClientSet) Invalidate() {
	cs.mu.Lock()
	cs.fresh = false
	cs.mu.Unlock()
}

// Members returns the current first hop names, recomputing if stale.
func (cs *ClientSet) Members() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.fresh {
		cs.members = cs.recompute()
		cs.fresh = true
	}
	return cs.members
}

// Matches reports whether the fingerprint or nickname belongs to a first
// hop relay.
func (cs *ClientSet) Matches(fingerprint, nickname string) bool {
	for _, m := range cs.Members() {
		if m == nickname {
			return true
		}
		if len(m) > 1 && m[0] == '$' && m[1:] == fingerprint {
			return true
		}
	}
	return false
}

// recompute parses the first hop out of each circuit status line.
// Failures yield an empty set; the tracker simply sees no client circuits
// until the next invalidation.
func (cs *ClientSet) recompute() []string {
	info, err := cs.client.Info("circuit-status")
	if err != nil {
		log.Debugf("circuit status unavailable: %v", err)
		return nil
	}

	var members []string
	for _, line := range strings.Split(info, "\n") {
		fields := strings.Fields(line)
		if len(fields) <= 3 {
			continue
		}
		// The path is the third field; its first comma separated
		// component is the first hop.
		hop, _, _ := strings.Cut(fields[2], ",")
		members = append(members, hop)
	}
	return members
}
