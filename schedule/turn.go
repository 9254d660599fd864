// Package schedule decides whose turn it is to initiate trades.
//
// Turns are a pure function of a shared epoch and a fixed slot length, so
// peers agree on the active turn without exchanging any message.
package schedule

import (
	"context"
	"time"
)

// ActiveTurn returns the 1-based turn owning the slot that contains now.
// Before the epoch the active turn is 1.
func ActiveTurn(now, epoch time.Time, slot time.Duration, peers int) int {
	if peers <= 0 || slot <= 0 {
		return 1
	}
	idx := SlotIndex(now, epoch, slot)
	if idx < 0 {
		return 1
	}
	return int(idx%int64(peers)) + 1
}

// SlotIndex is the number of whole slots elapsed since the epoch, or -1
// before it.
func SlotIndex(now, epoch time.Time, slot time.Duration) int64 {
	elapsed := now.Sub(epoch)
	if elapsed < 0 || slot <= 0 {
		return -1
	}
	return int64(elapsed / slot)
}

// Remaining returns the time left in the slot that contains now.
func Remaining(now, epoch time.Time, slot time.Duration) time.Duration {
	if slot <= 0 {
		return 0
	}
	elapsed := now.Sub(epoch)
	if elapsed < 0 {
		return slot
	}
	return slot - elapsed%slot
}

// Clock abstracts wall time so the scheduler can be driven by tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
