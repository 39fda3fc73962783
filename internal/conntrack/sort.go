package conntrack

import (
	"encoding/binary"
	"net"
	"sort"
	"strings"
)

// SortKey selects one comparison applied by the sort engine. Keys are
// evaluated in configured order and the first inequality decides; a
// stable sort preserves relative order on full ties.
type SortKey int

const (
	SortByCategory SortKey = iota
	SortByForeignListing
	SortBySourceListing
	SortByDestListing
	SortByCountry
	SortByForeignPort
	SortBySourcePort
	SortByDestPort
	SortByUptime

	// NumSortKeys is the number of supported sort keys.
	NumSortKeys
)

func (k SortKey) Label() string {
	switch k {
	case SortByCategory:
		return "Connection Type"
	case SortByForeignListing:
		return "Listing (Foreign)"
	case SortBySourceListing:
		return "Listing (Source)"
	case SortByDestListing:
		return "Listing (Dest.)"
	case SortByCountry:
		return "Country Code"
	case SortByForeignPort:
		return "Port (Foreign)"
	case SortBySourcePort:
		return "Port (Source)"
	case SortByDestPort:
		return "Port (Dest.)"
	case SortByUptime:
		return "Connection Time"
	}
	return "unknown"
}

// ListingMode selects how endpoint identities are rendered and, for the
// listing sort keys, compared.
type ListingMode int

const (
	ListByAddress ListingMode = iota
	ListByHostname
	ListByFingerprint
	ListByNickname

	// NumListingModes is the number of display identity modes.
	NumListingModes
)

func (m ListingMode) Label() string {
	switch m {
	case ListByAddress:
		return "IP Address"
	case ListByHostname:
		return "Hostname"
	case ListByFingerprint:
		return "Fingerprint"
	case ListByNickname:
		return "Nickname"
	}
	return "unknown"
}

// listingRank orders endpoint identities under a listing mode. Lower
// tiers sort first: resolved identities, then partially resolved ones
// ("Unnamed" nicknames), then fully unknown entries. Entries within a
// tier order by name, falling back to numeric address.
type listingRank struct {
	tier int
	name string
	addr uint32
}

func (a listingRank) compare(b listingRank) int {
	if a.tier != b.tier {
		return a.tier - b.tier
	}
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	switch {
	case a.addr < b.addr:
		return -1
	case a.addr > b.addr:
		return 1
	}
	return 0
}

// listingFunc computes the sortable identity of an endpoint under the
// active listing mode.
type listingFunc func(addr string, port uint16) listingRank

// orderConns applies the configured sort keys as an iterative comparator
// chain over a stable sort.
func orderConns(conns []*Conn, order []SortKey, listing listingFunc) {
	cmps := make([]func(a, b *Conn) int, 0, len(order))
	for _, key := range order {
		cmps = append(cmps, comparator(key, listing))
	}
	sort.SliceStable(conns, func(i, j int) bool {
		for _, cmp := range cmps {
			if c := cmp(conns[i], conns[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func comparator(key SortKey, listing listingFunc) func(a, b *Conn) int {
	switch key {
	case SortByForeignListing:
		return func(a, b *Conn) int {
			return listing(a.RemoteAddr, a.RemotePort).compare(listing(b.RemoteAddr, b.RemotePort))
		}
	case SortBySourceListing:
		return func(a, b *Conn) int {
			return listing(a.SrcAddr(), a.RemotePort).compare(listing(b.SrcAddr(), b.RemotePort))
		}
	case SortByDestListing:
		return func(a, b *Conn) int {
			return listing(a.DstAddr(), a.RemotePort).compare(listing(b.DstAddr(), b.RemotePort))
		}
	case SortByCountry:
		return func(a, b *Conn) int {
			return strings.Compare(a.Country, b.Country)
		}
	case SortByForeignPort:
		return func(a, b *Conn) int {
			return int(a.RemotePort) - int(b.RemotePort)
		}
	case SortBySourcePort:
		return func(a, b *Conn) int {
			return int(a.SrcPort()) - int(b.SrcPort())
		}
	case SortByDestPort:
		return func(a, b *Conn) int {
			return int(a.DstPort()) - int(b.DstPort())
		}
	case SortByUptime:
		// Longest lived connections first.
		return func(a, b *Conn) int {
			switch {
			case a.FirstSeen.Before(b.FirstSeen):
				return -1
			case b.FirstSeen.Before(a.FirstSeen):
				return 1
			}
			return 0
		}
	default: // SortByCategory
		return func(a, b *Conn) int {
			return int(a.Category) - int(b.Category)
		}
	}
}

// addrValue converts a dotted quad to its 32 bit value for numeric
// ordering. Addresses that do not parse as IPv4 order first.
func addrValue(addr string) uint32 {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}
