package conntrack

import (
	"errors"
	"time"

	"relaywatch/internal/netstat"
	"relaywatch/internal/relay"
)

// fakeClient is an in-memory control client with canned answers.
type fakeClient struct {
	consensus    []relay.ConsensusEntry
	consensusErr error
	statuses     map[string][]relay.ConsensusEntry
	statusErr    error
	descriptors  map[string]*relay.Descriptor
	options      map[string]string
	infos        map[string]string
	infoErrs     map[string]error
	countries    map[string]string
	geoErr       error

	statusCalls int
	infoCalls   map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses:    make(map[string][]relay.ConsensusEntry),
		descriptors: make(map[string]*relay.Descriptor),
		options:     make(map[string]string),
		infos:       make(map[string]string),
		infoErrs:    make(map[string]error),
		countries:   make(map[string]string),
		infoCalls:   make(map[string]int),
	}
}

func (f *fakeClient) Consensus() ([]relay.ConsensusEntry, error) {
	return f.consensus, f.consensusErr
}

func (f *fakeClient) NetworkStatus(fp string) ([]relay.ConsensusEntry, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statuses[fp], nil
}

func (f *fakeClient) Descriptor(fp string) (*relay.Descriptor, error) {
	desc, ok := f.descriptors[fp]
	if !ok {
		return nil, errors.New("no descriptor")
	}
	return desc, nil
}

func (f *fakeClient) Option(name string) (string, error) {
	return f.options[name], nil
}

func (f *fakeClient) Info(key string) (string, error) {
	f.infoCalls[key]++
	if err, ok := f.infoErrs[key]; ok {
		return "", err
	}
	return f.infos[key], nil
}

func (f *fakeClient) CountryCode(addr string) (string, error) {
	if f.geoErr != nil {
		return "", f.geoErr
	}
	if code, ok := f.countries[addr]; ok {
		return code, nil
	}
	return "zz", nil
}

// fakeSource serves a fixed socket listing.
type fakeSource struct {
	socks []netstat.Socket
	err   error
}

func (f *fakeSource) Connections(pid int) ([]netstat.Socket, error) {
	return f.socks, f.err
}

// fakeHostnames resolves from a fixed map.
type fakeHostnames struct {
	names  map[string]string
	paused bool
}

func (f *fakeHostnames) Resolve(addr string) string {
	return f.names[addr]
}

func (f *fakeHostnames) SetPaused(paused bool) {
	f.paused = paused
}

func entry(nick, fp, addr string, orPort uint16) relay.ConsensusEntry {
	return relay.ConsensusEntry{
		Nickname:    nick,
		Fingerprint: fp,
		Address:     addr,
		ORPort:      orPort,
	}
}

// newTestPanel wires a panel against the fakes with a fixed clock.
func newTestPanel(client *fakeClient, source *fakeSource) *Panel {
	p := NewPanel(client, source, &fakeHostnames{names: make(map[string]string)}, 42)
	base := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }
	return p
}
