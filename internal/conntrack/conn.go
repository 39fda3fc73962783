package conntrack

import "time"

// unknownCountry is the country code substituted when geolocation is
// unavailable.
const unknownCountry = "??"

// hostPort identifies a remote endpoint. It keys first-seen carryover and
// the resolver caches.
type hostPort struct {
	addr string
	port uint16
}

// Conn is one classified TCP connection. Records are immutable once
// built; each refresh rebuilds the listing wholesale and carries
// FirstSeen over for endpoints already present, so displayed durations
// stay continuous.
type Conn struct {
	Category   Category
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
	Country    string
	FirstSeen  time.Time
}

func (c *Conn) remote() hostPort {
	return hostPort{c.RemoteAddr, c.RemotePort}
}

// SrcAddr is the address of the originating side: the remote end for
// inbound connections, the local end otherwise.
func (c *Conn) SrcAddr() string {
	if c.Category == Inbound {
		return c.RemoteAddr
	}
	return c.LocalAddr
}

// DstAddr is the address of the receiving side.
func (c *Conn) DstAddr() string {
	if c.Category == Inbound {
		return c.LocalAddr
	}
	return c.RemoteAddr
}

// SrcPort is the port of the originating side.
func (c *Conn) SrcPort() uint16 {
	if c.Category == Inbound {
		return c.RemotePort
	}
	return c.LocalPort
}

// DstPort is the port of the receiving side.
func (c *Conn) DstPort() uint16 {
	if c.Category == Inbound {
		return c.LocalPort
	}
	return c.RemotePort
}

// connIndex locates sel in conns by record value. Records are rebuilt on
// every refresh, so cursor identity is value equality, which holds across
// refreshes thanks to first-seen carryover.
func connIndex(conns []*Conn, sel *Conn) int {
	if sel == nil {
		return -1
	}
	for i, c := range conns {
		if *c == *sel {
			return i
		}
	}
	return -1
}
