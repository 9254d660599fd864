package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/luca-patrignani/cardswap/config"
)

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	base := baseAddress.To4()
	if base == nil {
		return nil, fmt.Errorf("base address %v is not IPv4", baseAddress)
	}
	ip := make(net.IP, len(base))
	copy(ip, base)
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > len(ip) {
		return nil, fmt.Errorf("too many octets in %q", partialAddr)
	}
	for i := 0; i < len(octets); i++ {
		var octet byte
		_, err := fmt.Sscanf(octets[i], "%d", &octet)
		if err != nil {
			return nil, err
		}
		ip[len(ip)-len(octets)+i] = octet
	}
	return ip, nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}

// allocatorAddr resolves the allocator given on the command line. The port
// defaults to INDEX_PORT; a numeric host with fewer than four octets is
// completed from CLIENT_HOST, or from the loopback address when the peer
// listens on every interface. Host names are used as they are.
func allocatorAddr(arg string, cfg config.Peer) (string, int, error) {
	host, port, err := splitHostPort(arg, cfg.IndexPort)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, fmt.Errorf("bad port %q", port)
	}
	if !isPartialIP(host) {
		return host, p, nil
	}
	base := net.ParseIP(cfg.ListenHost)
	if base == nil || base.IsUnspecified() || base.To4() == nil {
		base = net.IPv4(127, 0, 0, 1)
	}
	ip, err := guessIpAddress(base, host)
	if err != nil {
		return "", 0, err
	}
	return ip.String(), p, nil
}

// isPartialIP reports whether host is empty or made of one to three numeric
// octets.
func isPartialIP(host string) bool {
	if host == "" {
		return true
	}
	octets := strings.Split(host, ".")
	if len(octets) > 3 {
		return false
	}
	for _, o := range octets {
		if _, err := strconv.ParseUint(o, 10, 8); err != nil {
			return false
		}
	}
	return true
}
