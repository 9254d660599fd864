package ledger

import (
	"fmt"

	"github.com/luca-patrignani/cardswap/inventory"
)

// Role is this peer's side of a trade.
type Role string

const (
	Genesis   Role = "genesis"
	Initiator Role = "initiator"
	Responder Role = "responder"
)

// Trade is a completed one-for-one swap.
type Trade struct {
	Role         Role   `json:"role"`
	Counterparty string `json:"counterparty"`
	Gave         int    `json:"gave"`
	Got          int    `json:"got"`
}

func (t Trade) validate() error {
	if t.Role != Initiator && t.Role != Responder {
		return fmt.Errorf("unknown role %q", t.Role)
	}
	if t.Counterparty == "" {
		return fmt.Errorf("missing counterparty")
	}
	if !inventory.Valid(t.Gave) || !inventory.Valid(t.Got) {
		return fmt.Errorf("card out of range: gave %d got %d", t.Gave, t.Got)
	}
	return nil
}

// Entry is one link of the journal.
type Entry struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
	Trade     Trade  `json:"trade"`
}
