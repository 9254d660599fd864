package allocator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luca-patrignani/cardswap/directory"
)

// ErrCohortFull is returned when a new name registers after every turn has
// been assigned.
var ErrCohortFull = errors.New("cohort full")

// Member is a registered peer.
type Member struct {
	Peer  directory.Peer
	Turn  int
	Cards []int
}

// Registry assigns turns in registration order.
type Registry struct {
	mu       sync.Mutex
	capacity int
	members  []*Member
	byName   map[string]*Member
}

func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, byName: make(map[string]*Member)}
}

// Register adds p with cards from deal, or updates the address of an
// already registered name, keeping its turn and cards. rejoin reports the
// latter.
func (r *Registry) Register(p directory.Peer, deal func() ([]int, error)) (m Member, rejoin bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[p.Name]; ok {
		existing.Peer = p
		return existing.copy(), true, nil
	}
	if len(r.members) >= r.capacity {
		return Member{}, false, fmt.Errorf("%w: %d peers registered", ErrCohortFull, r.capacity)
	}
	cards, err := deal()
	if err != nil {
		return Member{}, false, err
	}
	nm := &Member{Peer: p, Turn: len(r.members) + 1, Cards: cards}
	r.members = append(r.members, nm)
	r.byName[p.Name] = nm
	return nm.copy(), false, nil
}

func (r *Registry) Lookup(name string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byName[name]
	if !ok {
		return Member{}, false
	}
	return m.copy(), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) >= r.capacity
}

// Peers returns every registered peer in turn order.
func (r *Registry) Peers() []directory.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]directory.Peer, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.Peer)
	}
	return out
}

func (m *Member) copy() Member {
	return Member{Peer: m.Peer, Turn: m.Turn, Cards: append([]int(nil), m.Cards...)}
}
