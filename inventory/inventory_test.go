package inventory

import (
	"errors"
	"slices"
	"testing"
)

type recordingStore struct {
	saves [][]int
	err   error
}

func (s *recordingStore) SaveCards(cards []int) error {
	s.saves = append(s.saves, slices.Clone(cards))
	return s.err
}

func TestMissingAndDuplicates(t *testing.T) {
	inv, err := New([]int{0, 0, 1, 5, 5, 5, 10}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := inv.Duplicates(), []int{0, 5}; !slices.Equal(got, want) {
		t.Fatalf("Duplicates() = %v, want %v", got, want)
	}
	if got, want := inv.Missing(), []int{2, 3, 4, 6, 7, 8, 9}; !slices.Equal(got, want) {
		t.Fatalf("Missing() = %v, want %v", got, want)
	}
	counts := inv.Counts()
	if len(counts) != NumValues {
		t.Fatalf("Counts() has %d entries, want %d", len(counts), NumValues)
	}
	if counts[5] != 3 || counts[3] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestIsCompleteIdempotent(t *testing.T) {
	inv, err := New(Values(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := inv.IsComplete()
	second := inv.IsComplete()
	if !first || first != second {
		t.Fatalf("IsComplete() = %v then %v, want true twice", first, second)
	}
	if err := inv.Remove(7); err != nil {
		t.Fatal(err)
	}
	if inv.IsComplete() || inv.IsComplete() {
		t.Fatal("expected incomplete inventory after removing the only 7")
	}
}

func TestRemoveMissingCardIsInvariantViolation(t *testing.T) {
	store := &recordingStore{}
	inv, err := New([]int{1, 2}, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = inv.Remove(3)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if len(store.saves) != 0 {
		t.Fatalf("failed mutation must not flush, got %d saves", len(store.saves))
	}
	if inv.Len() != 2 {
		t.Fatalf("inventory changed after failed remove: %v", inv)
	}
}

func TestInvalidCards(t *testing.T) {
	if _, err := New([]int{11}, nil, nil); !errors.Is(err, ErrInvalidCard) {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
	inv, _ := New(nil, nil, nil)
	if err := inv.Add(-1); !errors.Is(err, ErrInvalidCard) {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
}

func TestSwapFlushesOnce(t *testing.T) {
	store := &recordingStore{}
	inv, err := New([]int{0, 0, 1}, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := inv.Swap(0, 2); err != nil {
		t.Fatal(err)
	}
	if len(store.saves) != 1 {
		t.Fatalf("expected one flush, got %d", len(store.saves))
	}
	if got, want := store.saves[0], []int{0, 1, 2}; !slices.Equal(got, want) {
		t.Fatalf("flushed %v, want %v", got, want)
	}
	if inv.Len() != 3 {
		t.Fatalf("swap changed the card count: %v", inv)
	}
}

func TestSwapRejectedLeavesInventoryUntouched(t *testing.T) {
	inv, _ := New([]int{0, 1}, nil, nil)
	if err := inv.Swap(4, 2); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if err := inv.Swap(0, 42); !errors.Is(err, ErrInvalidCard) {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
	if got := inv.Cards(); !slices.Equal(got, []int{0, 1}) {
		t.Fatalf("inventory changed: %v", got)
	}
}

func TestFlushFailureIsNotFatal(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	inv, _ := New([]int{3}, store, nil)
	if err := inv.Add(4); err != nil {
		t.Fatalf("persistence failure leaked: %v", err)
	}
	if inv.Count(4) != 1 {
		t.Fatal("in-memory state must stay authoritative")
	}
}

func TestMissingAfterSwap(t *testing.T) {
	inv, _ := New([]int{0, 1, 1}, nil, nil)
	before := len(inv.Missing())
	if got := inv.MissingAfterSwap(1, 2); got != before-1 {
		t.Fatalf("MissingAfterSwap(1,2) = %d, want %d", got, before-1)
	}
	if got := inv.MissingAfterSwap(0, 1); got != before+1 {
		t.Fatalf("MissingAfterSwap(0,1) = %d, want %d", got, before+1)
	}
	if inv.Count(1) != 2 {
		t.Fatal("MissingAfterSwap mutated the inventory")
	}
}
