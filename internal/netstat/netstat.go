package netstat

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// tcpStateListen is the kernel's state value for listening sockets, which
// carry no remote endpoint and are excluded from the listing.
const tcpStateListen = 0x0a

// Socket is one TCP connection owned by the monitored process.
type Socket struct {
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
}

// Source enumerates a process's TCP connections from the proc filesystem.
// The zero value reads the live /proc mount.
type Source struct {
	// Root overrides the proc mount point, primarily for tests.
	Root string
}

func (s *Source) root() string {
	if s.Root != "" {
		return s.Root
	}
	return "/proc"
}

// Connections lists the non-listening TCP connections owned by pid, by
// intersecting the global socket tables with the process's socket inodes.
func (s *Source) Connections(pid int) ([]Socket, error) {
	inodes, err := s.socketInodes(pid)
	if err != nil {
		return nil, fmt.Errorf("socket inodes for pid %d: %w", pid, err)
	}

	var out []Socket
	for _, table := range []string{"net/tcp", "net/tcp6"} {
		socks, err := parseTable(filepath.Join(s.root(), table), inodes)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, socks...)
	}
	return out, nil
}

// socketInodes collects the socket inode numbers among the process's open
// file descriptors.
func (s *Source) socketInodes(pid int) (map[string]bool, error) {
	fdDir := filepath.Join(s.root(), strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, err
	}

	inodes := make(map[string]bool, len(entries))
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil {
			continue // fd closed while scanning
		}
		if rest, ok := strings.CutPrefix(target, "socket:["); ok {
			inodes[strings.TrimSuffix(rest, "]")] = true
		}
	}
	return inodes, nil
}

// parseTable reads one /proc/net table and keeps the rows whose inode
// belongs to the monitored process.
func parseTable(path string, inodes map[string]bool) ([]Socket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Socket
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header row
	for scanner.Scan() {
		// sl local_address rem_address st ... uid timeout inode ...
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 || !inodes[fields[9]] {
			continue
		}
		if state, err := strconv.ParseUint(fields[3], 16, 8); err != nil || state == tcpStateListen {
			continue
		}

		localAddr, localPort, err := parseHexAddr(fields[1])
		if err != nil {
			continue
		}
		remoteAddr, remotePort, err := parseHexAddr(fields[2])
		if err != nil {
			continue
		}
		out = append(out, Socket{
			LocalAddr:  localAddr,
			LocalPort:  localPort,
			RemoteAddr: remoteAddr,
			RemotePort: remotePort,
		})
	}
	return out, scanner.Err()
}

// parseHexAddr decodes the kernel's ADDR:PORT notation, where the address
// is hex encoded in little endian 32 bit groups.
func parseHexAddr(s string) (string, uint16, error) {
	addrHex, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed address %q", s)
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", 0, err
	}
	raw, err := hex.DecodeString(addrHex)
	if err != nil || len(raw)%4 != 0 {
		return "", 0, fmt.Errorf("malformed address %q", s)
	}
	for i := 0; i < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	return net.IP(raw).String(), uint16(port), nil
}
