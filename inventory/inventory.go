// Package inventory holds the multiset of cards owned by a single peer.
//
// The inventory is touched only by the peer's control loop, so it carries no
// locking. Every mutation is followed by a best-effort flush to a Store; the
// in-memory state stays authoritative when the flush fails.
package inventory

import (
	"fmt"
	"log/slog"
	"slices"
)

// Store persists a snapshot of the cards after each mutation.
type Store interface {
	SaveCards(cards []int) error
}

// Inventory is a peer's multiset of card values.
type Inventory struct {
	counts [NumValues]int
	store  Store
	logger *slog.Logger
}

// New builds an inventory from an initial hand. Invalid values are rejected.
// store may be nil, in which case mutations are not persisted.
func New(cards []int, store Store, logger *slog.Logger) (*Inventory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Inventory{store: store, logger: logger}
	for _, c := range cards {
		if err := checkCard(c); err != nil {
			return nil, err
		}
		inv.counts[c-MinCard]++
	}
	return inv, nil
}

// Count returns how many copies of v are held. Out of range values count 0.
func (inv *Inventory) Count(v int) int {
	if !Valid(v) {
		return 0
	}
	return inv.counts[v-MinCard]
}

// Counts returns a value -> count mapping covering every card value.
func (inv *Inventory) Counts() map[int]int {
	counts := make(map[int]int, NumValues)
	for v := MinCard; v <= MaxCard; v++ {
		counts[v] = inv.counts[v-MinCard]
	}
	return counts
}

// Missing returns the values not held at all, ascending.
func (inv *Inventory) Missing() []int {
	var missing []int
	for v := MinCard; v <= MaxCard; v++ {
		if inv.counts[v-MinCard] == 0 {
			missing = append(missing, v)
		}
	}
	return missing
}

// Duplicates returns the values held more than once, ascending.
func (inv *Inventory) Duplicates() []int {
	var dups []int
	for v := MinCard; v <= MaxCard; v++ {
		if inv.counts[v-MinCard] > 1 {
			dups = append(dups, v)
		}
	}
	return dups
}

// IsComplete reports whether at least one of every value is held.
func (inv *Inventory) IsComplete() bool {
	return len(inv.Missing()) == 0
}

// Len returns the total number of cards held.
func (inv *Inventory) Len() int {
	n := 0
	for _, c := range inv.counts {
		n += c
	}
	return n
}

// Cards returns the held cards as a sorted slice.
func (inv *Inventory) Cards() []int {
	cards := make([]int, 0, inv.Len())
	for v := MinCard; v <= MaxCard; v++ {
		for range inv.counts[v-MinCard] {
			cards = append(cards, v)
		}
	}
	return cards
}

// Remove takes one copy of v out of the inventory.
func (inv *Inventory) Remove(v int) error {
	if err := inv.remove(v); err != nil {
		return err
	}
	inv.flush()
	return nil
}

// Add puts one copy of v into the inventory.
func (inv *Inventory) Add(v int) error {
	if err := checkCard(v); err != nil {
		return err
	}
	inv.counts[v-MinCard]++
	inv.flush()
	return nil
}

// Swap removes out and adds in as a single mutation with a single flush.
// Nothing changes if either value is rejected.
func (inv *Inventory) Swap(out, in int) error {
	if err := checkCard(in); err != nil {
		return err
	}
	if err := inv.remove(out); err != nil {
		return err
	}
	inv.counts[in-MinCard]++
	inv.flush()
	return nil
}

// Replace overwrites the whole hand, used once when the allocator hands out cards.
func (inv *Inventory) Replace(cards []int) error {
	var counts [NumValues]int
	for _, c := range cards {
		if err := checkCard(c); err != nil {
			return err
		}
		counts[c-MinCard]++
	}
	inv.counts = counts
	inv.flush()
	return nil
}

func (inv *Inventory) remove(v int) error {
	if err := checkCard(v); err != nil {
		return err
	}
	if inv.counts[v-MinCard] == 0 {
		return fmt.Errorf("%w: remove %d with count 0", ErrInvariantViolation, v)
	}
	inv.counts[v-MinCard]--
	return nil
}

func (inv *Inventory) flush() {
	if inv.store == nil {
		return
	}
	if err := inv.store.SaveCards(inv.Cards()); err != nil {
		inv.logger.Warn("could not persist cards", "error", err)
	}
}

// String renders the sorted hand, e.g. "[0 1 1 2]".
func (inv *Inventory) String() string {
	return fmt.Sprint(inv.Cards())
}

// MissingAfterSwap returns how many values would be missing if out were
// given away and in received. It does not mutate the inventory.
func (inv *Inventory) MissingAfterSwap(out, in int) int {
	counts := slices.Clone(inv.counts[:])
	if Valid(out) && counts[out-MinCard] > 0 {
		counts[out-MinCard]--
	}
	if Valid(in) {
		counts[in-MinCard]++
	}
	missing := 0
	for _, c := range counts {
		if c == 0 {
			missing++
		}
	}
	return missing
}
