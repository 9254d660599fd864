// Package allocator is the index service peers contact once to join: it
// assigns turns in registration order, deals each peer a hand from a
// conserved pool and hands out the peer directory when the cohort is full.
package allocator

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"

	"github.com/luca-patrignani/cardswap/inventory"
)

var suite suites.Suite = suites.MustFind("Ed25519")

// ErrPoolExhausted is returned when a draw asks for more cards than remain.
var ErrPoolExhausted = errors.New("card pool exhausted")

// Pool holds copies of every card value and deals them without replacement.
type Pool struct {
	mu     sync.Mutex
	counts [inventory.NumValues]int
	stream cipher.Stream
}

// NewPool creates a pool holding copies of each value. A nil stream uses the
// suite's random stream.
func NewPool(copies int, stream cipher.Stream) *Pool {
	if stream == nil {
		stream = suite.RandomStream()
	}
	p := &Pool{stream: stream}
	for i := range p.counts {
		p.counts[i] = copies
	}
	return p
}

// Draw removes n cards, each chosen uniformly among the remaining ones.
func (p *Pool) Draw(n int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := p.remaining()
	if n > remaining {
		return nil, fmt.Errorf("%w: want %d, %d left", ErrPoolExhausted, n, remaining)
	}
	hand := make([]int, 0, n)
	for range n {
		pick := random.Int(big.NewInt(int64(remaining)), p.stream).Int64()
		for i, c := range p.counts {
			if pick < int64(c) {
				p.counts[i]--
				hand = append(hand, i+inventory.MinCard)
				break
			}
			pick -= int64(c)
		}
		remaining--
	}
	return hand, nil
}

// Remaining counts the cards still in the pool.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining()
}

func (p *Pool) remaining() int {
	total := 0
	for _, c := range p.counts {
		total += c
	}
	return total
}

// Counts returns value -> copies left.
func (p *Pool) Counts() map[int]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]int, len(p.counts))
	for i, c := range p.counts {
		out[i+inventory.MinCard] = c
	}
	return out
}
