package inventory

import (
	"errors"
	"fmt"
)

// Card value bounds. A complete collection holds every value in [MinCard, MaxCard].
const (
	MinCard = 0
	MaxCard = 10
)

// NumValues is the number of distinct card values.
const NumValues = MaxCard - MinCard + 1

var (
	// ErrInvariantViolation is returned when a mutation would corrupt the
	// inventory, e.g. removing a card that is not held. It is a programming
	// error: callers must treat it as fatal.
	ErrInvariantViolation = errors.New("inventory invariant violation")

	// ErrInvalidCard is returned for values outside [MinCard, MaxCard].
	ErrInvalidCard = errors.New("invalid card value")
)

// Valid reports whether v is a legal card value.
func Valid(v int) bool {
	return v >= MinCard && v <= MaxCard
}

// Values returns every card value in ascending order.
func Values() []int {
	values := make([]int, 0, NumValues)
	for v := MinCard; v <= MaxCard; v++ {
		values = append(values, v)
	}
	return values
}

func checkCard(v int) error {
	if !Valid(v) {
		return fmt.Errorf("%w: %d", ErrInvalidCard, v)
	}
	return nil
}
