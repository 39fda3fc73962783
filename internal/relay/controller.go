package relay

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
)

// eventQueueSize bounds the async event channel. Events beyond the bound
// are dropped with a warning rather than blocking the control reader.
const eventQueueSize = 16

var (
	// ErrClosed is returned by requests issued after the control
	// connection has shut down.
	ErrClosed = errors.New("control connection closed")

	errNoValue = errors.New("reply carries no value for requested key")
)

// Controller speaks the relay's line oriented control protocol over a TCP
// or unix socket connection. Synchronous request/reply exchanges are
// serialized; asynchronous notifications are delivered on Events.
type Controller struct {
	conn net.Conn
	br   *bufio.Reader

	reqMu   sync.Mutex // serializes request/reply exchanges
	replies chan reply
	events  chan Event

	closeOnce sync.Once
}

type reply struct {
	lines []string
	err   error
}

// Dial connects to a control socket. The caller must authenticate before
// issuing any other request.
func Dial(network, addr string) (*Controller, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return newController(conn), nil
}

func newController(conn net.Conn) *Controller {
	c := &Controller{
		conn:    conn,
		br:      bufio.NewReader(conn),
		replies: make(chan reply, 1),
		events:  make(chan Event, eventQueueSize),
	}
	go c.readLoop()
	return c
}

// Close tears down the control connection. The event channel is closed
// once the reader drains.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Events returns the asynchronous notification channel. It is closed when
// the control connection shuts down.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Authenticate performs password (or open) authentication.
func (c *Controller) Authenticate(password string) error {
	cmd := "AUTHENTICATE"
	if password != "" {
		cmd = fmt.Sprintf("AUTHENTICATE %q", password)
	}
	_, err := c.request(cmd)
	return err
}

// AuthenticateCookie authenticates with the contents of the control auth
// cookie file.
func (c *Controller) AuthenticateCookie(path string) error {
	cookie, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read auth cookie: %w", err)
	}
	_, err = c.request("AUTHENTICATE " + hex.EncodeToString(cookie))
	return err
}

// Subscribe registers for the notifications the tracker consumes:
// consensus publication, descriptor updates and circuit status changes.
func (c *Controller) Subscribe() error {
	_, err := c.request("SETEVENTS NEWCONSENSUS NEWDESC CIRC")
	return err
}

// Info issues GETINFO for a single key and returns its value. Multi-line
// values are returned with embedded newlines.
func (c *Controller) Info(key string) (string, error) {
	lines, err := c.request("GETINFO " + key)
	if err != nil {
		return "", err
	}
	prefix := key + "="
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(strings.TrimPrefix(line, prefix), "\n"), nil
		}
	}
	return "", fmt.Errorf("%w: %s", errNoValue, key)
}

// Option issues GETCONF for a single configuration option. Unset options
// yield an empty value, not an error.
func (c *Controller) Option(name string) (string, error) {
	lines, err := c.request("GETCONF " + name)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		k, v, _ := strings.Cut(line, "=")
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return "", nil
}

// Consensus fetches and parses the full network status document.
func (c *Controller) Consensus() ([]ConsensusEntry, error) {
	doc, err := c.Info("ns/all")
	if err != nil {
		return nil, err
	}
	return parseStatusEntries(strings.Split(doc, "\n")), nil
}

// NetworkStatus fetches the consensus entries for a single fingerprint.
// A well formed reply has exactly one; callers treat more as an anomaly.
func (c *Controller) NetworkStatus(fingerprint string) ([]ConsensusEntry, error) {
	doc, err := c.Info("ns/id/" + fingerprint)
	if err != nil {
		return nil, err
	}
	return parseStatusEntries(strings.Split(doc, "\n")), nil
}

// Descriptor fetches and parses the server descriptor for a fingerprint.
func (c *Controller) Descriptor(fingerprint string) (*Descriptor, error) {
	doc, err := c.Info("desc/id/" + fingerprint)
	if err != nil {
		return nil, err
	}
	return parseDescriptor(fingerprint, strings.Split(doc, "\n")), nil
}

// CountryCode resolves an address to a country code via the relay's geoip
// database.
func (c *Controller) CountryCode(address string) (string, error) {
	return c.Info("ip-to-country/" + address)
}

// request writes a command and waits for its reply. Replies are matched
// to requests purely by ordering, hence the serialization.
func (c *Controller) request(cmd string) ([]string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, err
	}
	rep, ok := <-c.replies
	if !ok {
		return nil, ErrClosed
	}
	return rep.lines, rep.err
}

// readLoop demultiplexes the single inbound line stream into synchronous
// replies and 650 series asynchronous events.
func (c *Controller) readLoop() {
	defer close(c.events)
	defer close(c.replies)
	defer c.Close()

	var (
		cur     []string
		isEvent bool
		failed  bool
	)
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			continue
		}
		code, sep, rest := line[:3], line[3], line[4:]

		if len(cur) == 0 {
			isEvent = code == "650"
			failed = !strings.HasPrefix(code, "2") && !isEvent
		}

		if sep == '+' {
			// Data block: payload lines up to a lone dot, with the
			// leading dot of quoted lines stripped.
			var data []string
			for {
				dl, err := c.br.ReadString('\n')
				if err != nil {
					return
				}
				dl = strings.TrimRight(dl, "\r\n")
				if dl == "." {
					break
				}
				data = append(data, strings.TrimPrefix(dl, ".."))
			}
			rest += "\n" + strings.Join(data, "\n")
		}
		cur = append(cur, rest)

		if sep != ' ' {
			continue
		}

		// Reply complete.
		if isEvent {
			c.dispatchEvent(cur)
		} else {
			rep := reply{lines: cur}
			if failed {
				rep.err = fmt.Errorf("control error %s: %s", code, rest)
			}
			c.replies <- rep
		}
		cur = nil
	}
}

func (c *Controller) dispatchEvent(lines []string) {
	if len(lines) == 0 {
		return
	}
	body := lines[0]
	keyword, _, _ := strings.Cut(body, " ")
	keyword, _, _ = strings.Cut(keyword, "\n")

	var ev Event
	switch keyword {
	case "NEWCONSENSUS":
		// The consensus document follows the keyword in the data block.
		doc := strings.Join(lines, "\n")
		if _, after, ok := strings.Cut(doc, "\n"); ok {
			doc = after
		}
		ev = ConsensusEvent{Entries: parseStatusEntries(strings.Split(doc, "\n"))}
	case "NEWDESC":
		var fps []string
		for _, f := range strings.Fields(body)[1:] {
			name, _, _ := strings.Cut(f, "~")
			fps = append(fps, strings.TrimPrefix(name, "$"))
		}
		ev = DescriptorEvent{Fingerprints: fps}
	case "CIRC":
		ev = CircuitEvent{}
	default:
		return
	}

	select {
	case c.events <- ev:
	default:
		log.Warnf("event queue full, dropping %T", ev)
	}
}

// parseStatusEntries parses "r" and "s" lines of a network status
// document. Malformed lines are skipped; the document format is not under
// this process's control.
func parseStatusEntries(lines []string) []ConsensusEntry {
	var entries []ConsensusEntry
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "r":
			if len(fields) < 9 {
				continue
			}
			orPort, _ := strconv.ParseUint(fields[7], 10, 16)
			dirPort, _ := strconv.ParseUint(fields[8], 10, 16)
			entries = append(entries, ConsensusEntry{
				Nickname:    fields[1],
				Fingerprint: decodeIdentity(fields[2]),
				Address:     fields[6],
				ORPort:      uint16(orPort),
				DirPort:     uint16(dirPort),
				IsDown:      true, // until an s line lists Running
			})
		case "s":
			if len(entries) == 0 {
				continue
			}
			for _, flag := range fields[1:] {
				if flag == "Running" {
					entries[len(entries)-1].IsDown = false
				}
			}
		}
	}
	return entries
}

// parseDescriptor extracts the liveness related fields of a server
// descriptor.
func parseDescriptor(fingerprint string, lines []string) *Descriptor {
	desc := &Descriptor{Fingerprint: fingerprint}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[0] == "opt" {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "hibernating":
			desc.Hibernating = len(fields) > 1 && fields[1] == "1"
		case "bandwidth":
			// bandwidth <average> <burst> <observed>
			if len(fields) >= 4 {
				desc.ObservedBandwidth, _ = strconv.ParseUint(fields[3], 10, 64)
			}
		}
	}
	return desc
}

// decodeIdentity converts the base64 identity of an "r" line to the
// uppercase hex fingerprint used everywhere else.
func decodeIdentity(b64 string) string {
	raw, err := base64.StdEncoding.WithPadding(base64.NoPadding).DecodeString(b64)
	if err != nil {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}
