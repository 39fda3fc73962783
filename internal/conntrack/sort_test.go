package conntrack

import (
	"testing"
	"time"
)

func addrRank(addr string, port uint16) listingRank {
	return listingRank{addr: addrValue(addr)}
}

func remotes(conns []*Conn) []string {
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.RemoteAddr
	}
	return out
}

// TestOrderConnsCategoryThenAddress checks the default chain: categories
// order by weight, ties fall through to the foreign listing.
func TestOrderConnsCategoryThenAddress(t *testing.T) {
	conns := []*Conn{
		{Category: Outbound, RemoteAddr: "9.9.9.9"},
		{Category: Inbound, RemoteAddr: "5.5.5.5"},
		{Category: Outbound, RemoteAddr: "1.1.1.1"},
		{Category: Client, RemoteAddr: "3.3.3.3"},
		{Category: Inbound, RemoteAddr: "2.2.2.2"},
	}
	orderConns(conns, []SortKey{SortByCategory, SortByForeignListing}, addrRank)

	want := []string{"5.5.5.5", "2.2.2.2", "1.1.1.1", "9.9.9.9", "3.3.3.3"}
	if got := remotes(conns); !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

// TestOrderConnsStableOnTies verifies full ties keep their relative
// order, so repeated sorting never reshuffles the listing.
func TestOrderConnsStableOnTies(t *testing.T) {
	a := &Conn{Category: Inbound, RemoteAddr: "1.1.1.1", RemotePort: 1}
	b := &Conn{Category: Inbound, RemoteAddr: "1.1.1.1", RemotePort: 2}
	c := &Conn{Category: Inbound, RemoteAddr: "1.1.1.1", RemotePort: 3}
	conns := []*Conn{a, b, c}

	orderConns(conns, []SortKey{SortByCategory, SortByForeignListing}, addrRank)
	orderConns(conns, []SortKey{SortByCategory, SortByForeignListing}, addrRank)

	if conns[0] != a || conns[1] != b || conns[2] != c {
		t.Fatalf("tie order changed: %v", remotes(conns))
	}
}

// TestOrderConnsUptime checks that longest lived connections sort first.
func TestOrderConnsUptime(t *testing.T) {
	base := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	conns := []*Conn{
		{RemoteAddr: "2.2.2.2", FirstSeen: base.Add(-time.Minute)},
		{RemoteAddr: "1.1.1.1", FirstSeen: base.Add(-time.Hour)},
		{RemoteAddr: "3.3.3.3", FirstSeen: base},
	}
	orderConns(conns, []SortKey{SortByUptime}, addrRank)

	want := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	if got := remotes(conns); !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

// TestOrderConnsSourcePort verifies the direction aware port keys: for an
// inbound record the source is the remote side, for outbound the local.
func TestOrderConnsSourcePort(t *testing.T) {
	conns := []*Conn{
		{Category: Outbound, RemoteAddr: "1.1.1.1", LocalPort: 9000, RemotePort: 443},
		{Category: Inbound, RemoteAddr: "2.2.2.2", LocalPort: 9001, RemotePort: 5000},
	}
	orderConns(conns, []SortKey{SortBySourcePort}, addrRank)

	// Inbound source port is 5000, outbound source port is 9000.
	if got := remotes(conns); !equalStrings(got, []string{"2.2.2.2", "1.1.1.1"}) {
		t.Fatalf("order = %v", got)
	}
}

// TestAddrValue checks true base-256 interpretation of dotted quads.
func TestAddrValue(t *testing.T) {
	tests := []struct {
		addr string
		want uint32
	}{
		{"0.0.0.1", 1},
		{"0.0.1.0", 256},
		{"1.0.0.0", 1 << 24},
		{"255.255.255.255", 1<<32 - 1},
		{"not-an-ip", 0},
		{"::1", 0},
	}
	for _, tc := range tests {
		if got := addrValue(tc.addr); got != tc.want {
			t.Errorf("addrValue(%q) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}

// TestListingRankTiers checks tier ordering: resolved names before
// partially resolved entries before fully unknown ones, names compared
// within a tier and numeric addresses breaking name ties.
func TestListingRankTiers(t *testing.T) {
	resolved := listingRank{name: "ALPHA", addr: 100}
	resolvedLater := listingRank{name: "BETA", addr: 50}
	unnamed := listingRank{tier: 1, addr: 10}
	unknown := listingRank{tier: 2, addr: 5}

	if resolved.compare(resolvedLater) >= 0 {
		t.Error("ALPHA should order before BETA")
	}
	if resolvedLater.compare(unnamed) >= 0 {
		t.Error("resolved entry should order before tier 1")
	}
	if unnamed.compare(unknown) >= 0 {
		t.Error("tier 1 should order before tier 2")
	}

	sameName := listingRank{name: "ALPHA", addr: 200}
	if resolved.compare(sameName) >= 0 {
		t.Error("name tie should fall back to numeric address")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
