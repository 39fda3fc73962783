package relay

// ConsensusEntry is one router status entry from the network consensus
// document.
type ConsensusEntry struct {
	Nickname    string
	Fingerprint string // uppercase hex
	Address     string
	ORPort      uint16
	DirPort     uint16

	// IsDown is set when the consensus no longer lists the Running flag
	// for the relay.
	IsDown bool
}

// Descriptor is the subset of a relay's self published server descriptor
// needed to judge whether the relay is currently usable.
type Descriptor struct {
	Fingerprint       string
	Hibernating       bool
	ObservedBandwidth uint64
}

// Down reports whether the descriptor marks the relay as unusable for
// traffic (hibernating, or advertising no observed bandwidth).
func (d *Descriptor) Down() bool {
	return d.Hibernating || d.ObservedBandwidth == 0
}

// Event is an asynchronous notification delivered by the control
// connection. Handlers must tolerate duplicate deliveries.
type Event interface {
	event()
}

// ConsensusEvent carries the entries of a freshly published consensus.
type ConsensusEvent struct {
	Entries []ConsensusEntry
}

// DescriptorEvent lists the fingerprints whose descriptors were updated.
type DescriptorEvent struct {
	Fingerprints []string
}

// CircuitEvent signals a change in the status of the node's own circuits.
type CircuitEvent struct{}

func (ConsensusEvent) event()  {}
func (DescriptorEvent) event() {}
func (CircuitEvent) event()    {}
