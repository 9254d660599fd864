// Package trade decides and drives 1:1 card swaps between peers.
//
// Evaluate is the responder side: a self-interested acceptance policy that
// also gives up a sole copy when the proposer has none of what it offers, so
// that peers whose only needs are each other's single copies do not stall.
// Negotiator is the initiator side, run during this peer's turn.
package trade

import (
	"fmt"

	"github.com/luca-patrignani/cardswap/inventory"
)

// Decision is the responder's verdict on an offer.
type Decision struct {
	Accept bool
	Reason string
}

// Holdings is the read side of an inventory needed by the policy.
type Holdings interface {
	Count(v int) int
	Missing() []int
	MissingAfterSwap(out, in int) int
}

// Evaluate decides whether to give away want in exchange for offer.
func Evaluate(h Holdings, offer, want int) Decision {
	if !inventory.Valid(offer) || !inventory.Valid(want) {
		return Decision{Reason: "invalid numbers"}
	}
	wantCount := h.Count(want)
	if wantCount == 0 {
		return Decision{Reason: fmt.Sprintf("insufficient count: no %d to give", want)}
	}
	if h.Count(offer) == 0 {
		return Decision{Accept: true, Reason: fmt.Sprintf("need %d", offer)}
	}
	if wantCount > 1 {
		return Decision{Accept: true, Reason: fmt.Sprintf("hold %d copies of %d", wantCount, want)}
	}
	before := len(h.Missing())
	after := h.MissingAfterSwap(want, offer)
	if after < before {
		return Decision{Accept: true, Reason: fmt.Sprintf("missing %d -> %d", before, after)}
	}
	return Decision{Reason: fmt.Sprintf("already have %d and need my only %d", offer, want)}
}
