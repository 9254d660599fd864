// Package directory keeps the static list of peers handed out at join time.
package directory

import (
	"fmt"
	"net"
	"strconv"
)

// Peer describes a participant reachable over TCP.
type Peer struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Addr returns the dialable host:port of the peer.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

func (p Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Addr())
}

// Directory is an ordered snapshot of every peer in the system.
// It is never mutated after construction.
type Directory struct {
	peers []Peer
}

// New copies peers into a directory. Names must be unique.
func New(peers []Peer) (Directory, error) {
	seen := make(map[string]struct{}, len(peers))
	copied := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p.Name == "" {
			return Directory{}, fmt.Errorf("peer at %s has no name", p.Addr())
		}
		if _, ok := seen[p.Name]; ok {
			return Directory{}, fmt.Errorf("duplicate peer name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		copied = append(copied, p)
	}
	return Directory{peers: copied}, nil
}

// All returns a copy of every peer in registration order.
func (d Directory) All() []Peer {
	out := make([]Peer, len(d.peers))
	copy(out, d.peers)
	return out
}

// Others returns every peer except the one called self.
func (d Directory) Others(self string) []Peer {
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		if p.Name != self {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a peer by name.
func (d Directory) Lookup(name string) (Peer, bool) {
	for _, p := range d.peers {
		if p.Name == name {
			return p, true
		}
	}
	return Peer{}, false
}

// Len returns the number of peers, including this one.
func (d Directory) Len() int {
	return len(d.peers)
}

// Names returns peer names in registration order.
func (d Directory) Names() []string {
	names := make([]string, len(d.peers))
	for i, p := range d.peers {
		names[i] = p.Name
	}
	return names
}
