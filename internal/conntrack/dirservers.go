package conntrack

// dirServers is the compiled-in (address, port) allowlist of well known
// directory servers, matched verbatim when classifying connections.
var dirServers = map[hostPort]bool{
	{"86.59.21.38", 80}:       true, // tor26
	{"128.31.0.34", 9031}:     true, // moria1
	{"216.224.124.114", 9030}: true, // ides
	{"80.190.246.100", 80}:    true, // gabelmoo
	{"194.109.206.212", 80}:   true, // dizum
	{"213.73.91.31", 80}:      true, // dannenberg
	{"208.83.223.34", 443}:    true, // urras
}

func isDirServer(addr string, port uint16) bool {
	return dirServers[hostPort{addr, port}]
}
