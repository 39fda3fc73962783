package conntrack

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaywatch/internal/netstat"
	"relaywatch/internal/relay"
)

// ErrSocketQuery wraps socket source failures. A refresh returning it has
// left the previous snapshot untouched.
var ErrSocketQuery = errors.New("socket listing unavailable")

// SocketSource yields the monitored process's open TCP connections.
// Implemented by *netstat.Source; tests substitute fixed listings.
type SocketSource interface {
	Connections(pid int) ([]netstat.Socket, error)
}

// HostnameResolver is the asynchronous reverse resolver consulted by the
// hostname listing mode. Resolve returns "" while a lookup is pending or
// has failed.
type HostnameResolver interface {
	Resolve(addr string) string
	SetPaused(paused bool)
}

// DefaultSortOrder is the initial sort key configuration.
func DefaultSortOrder() []SortKey {
	return []SortKey{SortByCategory, SortByForeignListing, SortByForeignPort}
}

// View is the read-only state handed to the renderer each redraw.
type View struct {
	Conns  []*Conn
	Counts [NumCounted]int
	Cursor int // index into Conns, -1 when the cursor is disabled
	Scroll int
	Mode   ListingMode
	Paused bool
	Now    time.Time // pause time while paused, wall clock otherwise
}

// Panel owns the connection snapshot and every piece of state the
// renderer reads: classified records, category counts, pause buffer,
// cursor and scroll position, sort ordering and listing mode. Two actors
// mutate it concurrently, the refresh tick and the protocol event stream;
// everything below mu is serialized by it. The client set keeps its own
// lock so circuit status handling never stalls a refresh.
type Panel struct {
	client    ControlClient
	source    SocketSource
	hostnames HostnameResolver
	pid       int

	index    *Index
	resolver *Resolver
	clients  *ClientSet

	orPort      uint16
	dirPort     uint16
	controlPort uint16
	nickname    string // the node's own nickname

	mu          sync.Mutex // guards everything below
	conns       []*Conn
	counts      [NumCounted]int
	lastRefresh time.Time

	paused        bool
	pausedAt      time.Time
	buffer        []*Conn
	bufferedTicks int

	cursorEnabled bool
	cursorSel     *Conn
	cursorLoc     int
	scroll        int

	order     []SortKey
	mode      ListingMode
	geoWarned bool

	now func() time.Time
}

// NewPanel builds a panel for the given relay process. The relay's
// listener ports and the initial consensus are fetched from the control
// client up front; a missing consensus degrades to unknown identities
// until the next consensus event.
func NewPanel(client ControlClient, source SocketSource, hostnames HostnameResolver, pid int) *Panel {
	p := &Panel{
		client:        client,
		source:        source,
		hostnames:     hostnames,
		pid:           pid,
		index:         NewIndex(),
		order:         DefaultSortOrder(),
		cursorEnabled: true,
		now:           time.Now,
	}
	p.resolver = NewResolver(client, p.index)
	p.clients = NewClientSet(client)

	p.orPort = optionPort(client, "ORPort")
	p.dirPort = optionPort(client, "DirPort")
	p.controlPort = optionPort(client, "ControlPort")
	if nick, err := client.Option("Nickname"); err == nil {
		p.nickname = nick
	}

	if entries, err := client.Consensus(); err == nil {
		p.index.Rebuild(entries)
	} else {
		log.Warnf("consensus unavailable: %v", err)
	}
	return p
}

func optionPort(client ControlClient, name string) uint16 {
	val, err := client.Option(name)
	if err != nil || val == "" {
		return 0
	}
	// Listener options may carry flags after the port number.
	port, err := strconv.ParseUint(strings.Fields(val)[0], 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

// Refresh snapshots and classifies the process's connections. On socket
// source failure the previous snapshot is retained and the error
// surfaced; while paused the result lands in the buffer instead of the
// live listing.
func (p *Panel) Refresh() error {
	if p.pid == 0 {
		return nil
	}

	// Force a stale client set to recompute before the connections lock
	// is held.
	p.clients.Members()

	socks, err := p.source.Connections(p.pid)
	if err != nil {
		log.Warnf("unable to list connections for pid %d: %v", p.pid, err)
		return fmt.Errorf("%w: %v", ErrSocketQuery, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.conns
	if p.paused {
		prev = p.buffer
	}
	seen := make(map[hostPort]time.Time, len(prev))
	for _, c := range prev {
		seen[c.remote()] = c.FirstSeen
	}

	now := p.now()
	conns := make([]*Conn, 0, len(socks)+1)
	var counts [NumCounted]int
	for _, s := range socks {
		cat := p.classify(s)
		counts[cat]++

		first := now
		if t, ok := seen[hostPort{s.RemoteAddr, s.RemotePort}]; ok {
			first = t
		}
		conns = append(conns, &Conn{
			Category:   cat,
			LocalAddr:  s.LocalAddr,
			LocalPort:  s.LocalPort,
			RemoteAddr: s.RemoteAddr,
			RemotePort: s.RemotePort,
			Country:    p.countryFor(s.RemoteAddr),
			FirstSeen:  first,
		})
	}

	if self := p.selfConn(seen, now); self != nil {
		conns = append(conns, self)
	} else {
		p.resolver.ClearSelf()
	}

	p.lastRefresh = now
	if p.paused {
		p.buffer = conns
		p.bufferedTicks++
		return nil
	}
	p.conns = conns
	p.counts = counts
	// Hostname ordering is deferred to draw time since resolutions
	// trickle in between refreshes.
	if p.mode != ListByHostname {
		p.sortLocked()
	}
	return nil
}

// classify assigns the category of one raw socket. Local ports identify
// inbound and control traffic; everything else is judged by the remote
// identity.
func (p *Panel) classify(s netstat.Socket) Category {
	switch {
	case (p.orPort != 0 && s.LocalPort == p.orPort) ||
		(p.dirPort != 0 && s.LocalPort == p.dirPort):
		return Inbound
	case p.controlPort != 0 && s.LocalPort == p.controlPort:
		return Control
	}

	fp := p.resolver.Fingerprint(s.RemoteAddr, s.RemotePort)
	nick := p.resolver.Nickname(s.RemoteAddr, s.RemotePort)
	if p.clients.Matches(fp, nick) {
		return Client
	}
	if isDirServer(s.RemoteAddr, s.RemotePort) {
		return Directory
	}
	return Outbound
}

func (p *Panel) countryFor(addr string) string {
	code, err := p.client.CountryCode(addr)
	if err != nil {
		if !p.geoWarned {
			p.geoWarned = true
			log.Warnf("geoip database unavailable: %v", err)
		}
		return unknownCountry
	}
	return code
}

// selfConn synthesizes the localhost record for the node's own consensus
// entry, when the control client can supply address, OR port and
// fingerprint. The fingerprint is remembered on the resolver so lookups
// against our own endpoint bypass the general path.
func (p *Panel) selfConn(seen map[hostPort]time.Time, now time.Time) *Conn {
	if p.orPort == 0 {
		return nil
	}
	addr, err := p.client.Info("address")
	if err != nil || addr == "" {
		return nil
	}
	fp, err := p.client.Info("fingerprint")
	if err != nil || fp == "" {
		return nil
	}

	first := now
	if t, ok := seen[hostPort{addr, p.orPort}]; ok {
		first = t
	}
	p.resolver.SetSelf(addr, p.orPort, fp)
	return &Conn{
		Category:   Localhost,
		LocalAddr:  addr,
		LocalPort:  p.orPort,
		RemoteAddr: addr,
		RemotePort: p.orPort,
		Country:    p.countryFor(addr),
		FirstSeen:  first,
	}
}

// OnNewConsensus replaces the identity index wholesale and drops every
// cached resolution. Duplicate deliveries are harmless.
func (p *Panel) OnNewConsensus(entries []relay.ConsensusEntry) {
	p.index.Rebuild(entries)
	p.resolver.InvalidateAll()

	p.mu.Lock()
	if p.mode != ListByHostname {
		p.sortLocked()
	}
	p.mu.Unlock()
}

// OnNewDescriptors applies per-fingerprint patches: entries referencing
// an updated fingerprint are purged from the index and caches, then the
// single relevant status document is re-queried and inserted.
func (p *Panel) OnNewDescriptors(fingerprints []string) {
	p.resolver.InvalidateLiveConns()
	for _, fp := range fingerprints {
		p.index.RemoveFingerprint(fp)
		p.resolver.InvalidateFingerprint(fp)

		ns, err := p.client.NetworkStatus(fp)
		if err != nil {
			log.Debugf("network status for %s unavailable: %v", fp, err)
			continue
		}
		if len(ns) != 1 {
			// More than one consensus entry for a fingerprint is a
			// protocol anomaly; skip rather than index bad data.
			log.Warnf("%d consensus entries for fingerprint %s", len(ns), fp)
			continue
		}
		p.index.Insert(ns[0])
	}

	p.mu.Lock()
	if p.mode != ListByHostname {
		p.sortLocked()
	}
	p.mu.Unlock()
}

// OnCircuitStatus marks the client set stale; it is rebuilt on first use.
func (p *Panel) OnCircuitStatus() {
	p.clients.Invalidate()
}

// SetPaused freezes or thaws the visible snapshot. While paused,
// refreshes accumulate in a buffer; resuming promotes the buffer's latest
// contents to the live listing.
func (p *Panel) SetPaused(pause bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pause == p.paused {
		return
	}
	p.paused = pause
	if pause {
		p.pausedAt = p.now()
		p.buffer = append([]*Conn(nil), p.conns...)
		return
	}
	p.conns = append([]*Conn(nil), p.buffer...)
	p.bufferedTicks = 0
}

// Paused reports whether the visible snapshot is frozen.
func (p *Panel) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// BufferedTicks counts the refreshes absorbed by the buffer since the
// panel was paused.
func (p *Panel) BufferedTicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedTicks
}

// Connections returns the live (or frozen, while paused) listing.
func (p *Panel) Connections() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}

// Counts returns the per-category counters of the visible snapshot.
func (p *Panel) Counts() [NumCounted]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// Nickname returns the node's own nickname.
func (p *Panel) Nickname() string {
	return p.nickname
}

// Identity resolves an endpoint for display.
func (p *Panel) Identity(addr string, port uint16) (fingerprint, nickname string) {
	return p.resolver.Fingerprint(addr, port), p.resolver.Nickname(addr, port)
}

// MoveCursor shifts the cursor (or the scroll offset when the cursor is
// disabled) by delta rows, clamped to the current snapshot. When the
// selected record has disappeared the move starts from the last known
// numeric position.
func (p *Panel) MoveCursor(delta, pageHeight int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.scroll
	if p.cursorEnabled {
		cur = p.cursorLoc
		if i := connIndex(p.conns, p.cursorSel); i >= 0 {
			cur = i
		}
	}

	maxLoc := len(p.conns) - 1
	if !p.cursorEnabled {
		maxLoc = len(p.conns) - pageHeight
	}
	loc := cur + delta
	if loc > maxLoc {
		loc = maxLoc
	}
	if loc < 0 {
		loc = 0
	}

	if p.cursorEnabled {
		if len(p.conns) == 0 {
			return
		}
		p.cursorSel, p.cursorLoc = p.conns[loc], loc
		return
	}
	p.scroll = loc
}

// Page moves by a full visible page, minus one row of context when the
// cursor is enabled.
func (p *Panel) Page(dir, pageHeight int) {
	p.mu.Lock()
	shift := pageHeight
	if p.cursorEnabled && pageHeight > 0 {
		shift = pageHeight - 1
	}
	p.mu.Unlock()
	p.MoveCursor(dir*shift, pageHeight)
}

// SetCursorEnabled toggles between cursor and plain scroll navigation.
func (p *Panel) SetCursorEnabled(enabled bool) {
	p.mu.Lock()
	p.cursorEnabled = enabled
	p.mu.Unlock()
}

// CursorEnabled reports the navigation style.
func (p *Panel) CursorEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursorEnabled
}

// SetListingMode switches the display identity mode and resorts unless
// hostname ordering defers to draw time.
func (p *Panel) SetListingMode(mode ListingMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mode == p.mode {
		return
	}
	p.mode = mode
	if mode != ListByHostname {
		p.sortLocked()
	}
}

// Mode returns the active display identity mode.
func (p *Panel) Mode() ListingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetSortOrder replaces the ordered sort key list and resorts.
func (p *Panel) SetSortOrder(order []SortKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.order = append([]SortKey(nil), order...)
	if p.mode != ListByHostname {
		p.sortLocked()
	}
}

// SortOrder returns the active sort key list.
func (p *Panel) SortOrder() []SortKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SortKey(nil), p.order...)
}

// View bounds cursor and scroll to the current snapshot, pulls the scroll
// along with the cursor, and returns the ordered listing for rendering.
func (p *Panel) View(pageHeight int) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ListByHostname {
		p.sortLocked()
	}

	now := p.now()
	if p.paused {
		now = p.pausedAt
	}
	v := View{
		Counts: p.counts,
		Cursor: -1,
		Mode:   p.mode,
		Paused: p.paused,
		Now:    now,
	}

	if n := len(p.conns); n > 0 {
		if p.cursorLoc > n-1 {
			p.cursorLoc = n - 1
		}
		if p.cursorLoc < 0 {
			p.cursorLoc = 0
		}
		maxScroll := n - pageHeight
		if maxScroll < 0 {
			maxScroll = 0
		}
		if p.scroll > maxScroll {
			p.scroll = maxScroll
		}
		if p.scroll < 0 {
			p.scroll = 0
		}

		if p.cursorEnabled {
			if i := connIndex(p.conns, p.cursorSel); i >= 0 {
				p.cursorLoc = i
			} else {
				// Selection disappeared; fall back to the numeric spot.
				p.cursorSel = p.conns[p.cursorLoc]
			}
			if p.cursorLoc < p.scroll {
				p.scroll = p.cursorLoc
			} else if pageHeight > 0 && p.cursorLoc-pageHeight+1 > p.scroll {
				p.scroll = p.cursorLoc - pageHeight + 1
			}
			v.Cursor = p.cursorLoc
		}
	}

	v.Conns = append([]*Conn(nil), p.conns...)
	v.Scroll = p.scroll
	return v
}

func (p *Panel) sortLocked() {
	orderConns(p.conns, p.order, p.listingRank)
}

// listingRank computes the sortable identity of an endpoint under the
// active listing mode.
func (p *Panel) listingRank(addr string, port uint16) listingRank {
	switch p.mode {
	case ListByHostname:
		if p.hostnames != nil {
			if host := p.hostnames.Resolve(addr); host != "" {
				return listingRank{name: strings.ToUpper(host), addr: addrValue(addr)}
			}
		}
		return listingRank{tier: 1, addr: addrValue(addr)}
	case ListByFingerprint:
		if fp := p.resolver.Fingerprint(addr, port); fp != Unknown {
			return listingRank{name: fp, addr: addrValue(addr)}
		}
		return listingRank{tier: 1, addr: addrValue(addr)}
	case ListByNickname:
		switch nick := p.resolver.Nickname(addr, port); nick {
		case Unknown:
			return listingRank{tier: 2, addr: addrValue(addr)}
		case "Unnamed":
			return listingRank{tier: 1, addr: addrValue(addr)}
		default:
			return listingRank{name: nick, addr: addrValue(addr)}
		}
	default:
		return listingRank{addr: addrValue(addr)}
	}
}
