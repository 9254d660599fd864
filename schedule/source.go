package schedule

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/luca-patrignani/cardswap/storage"
)

// TurnSource reports which turn is active.
type TurnSource interface {
	// Active returns the active turn and a sequence number that changes
	// every time the turn changes hands.
	Active(now time.Time) (turn int, seq int64, err error)
	// Remaining is the time left before the active turn is over.
	Remaining(now time.Time) time.Duration
	// Advance is called by the owner of turn when it completes.
	Advance(now time.Time, turn int) error
}

// A Reclaimer is a TurnSource whose turn can be taken from a holder that
// stopped answering.
type Reclaimer interface {
	// Reclaim moves the turn to turn when the source still shows seq and
	// the holder has been silent long enough. It reports whether it did.
	Reclaim(now time.Time, turn int, seq int64) (bool, error)
}

// ClockSource derives the active turn from the wall clock alone.
type ClockSource struct {
	Epoch time.Time
	Slot  time.Duration
	Peers int
}

func (c ClockSource) Active(now time.Time) (int, int64, error) {
	return ActiveTurn(now, c.Epoch, c.Slot, c.Peers), SlotIndex(now, c.Epoch, c.Slot), nil
}

func (c ClockSource) Remaining(now time.Time) time.Duration {
	return Remaining(now, c.Epoch, c.Slot)
}

// Advance is a no-op: the clock moves on by itself.
func (ClockSource) Advance(time.Time, int) error { return nil }

// TurnFile is the document shared through a FileSource.
type TurnFile struct {
	CurrentTurn  int    `json:"current_turn"`
	Seq          int64  `json:"seq"`
	ActiveClient string `json:"active_client,omitempty"`
	LastUpdate   int64  `json:"last_update"`
}

// FileSource coordinates turns through a JSON file shared by peers on the
// same host. The owner of the current turn hands it to the next one on
// completion; the file is replaced atomically. A holder silent for a full
// slot per position between it and a waiting peer loses the turn to that
// peer, so exited peers are skipped.
type FileSource struct {
	Path  string
	Peers int

	// Slot bounds Remaining, measured from the last hand-over.
	Slot time.Duration

	// Names optionally maps turn-1 to the peer name written in the file.
	Names []string
}

func (f FileSource) read(now time.Time) (TurnFile, error) {
	var doc TurnFile
	err := storage.ReadJSON(f.Path, &doc)
	if errors.Is(err, fs.ErrNotExist) {
		doc = TurnFile{CurrentTurn: 1, ActiveClient: f.name(1), LastUpdate: now.UnixMilli()}
		return doc, storage.WriteJSON(f.Path, doc)
	}
	if err != nil {
		return doc, err
	}
	if doc.CurrentTurn < 1 || doc.CurrentTurn > f.Peers {
		return doc, fmt.Errorf("turn file %s: current_turn %d out of [1,%d]", f.Path, doc.CurrentTurn, f.Peers)
	}
	return doc, nil
}

func (f FileSource) name(turn int) string {
	if turn-1 < len(f.Names) {
		return f.Names[turn-1]
	}
	return ""
}

func (f FileSource) Active(now time.Time) (int, int64, error) {
	doc, err := f.read(now)
	if err != nil {
		return 0, 0, err
	}
	return doc.CurrentTurn, doc.Seq, nil
}

func (f FileSource) Remaining(now time.Time) time.Duration {
	doc, err := f.read(now)
	if err != nil {
		return 0
	}
	left := f.Slot - now.Sub(time.UnixMilli(doc.LastUpdate))
	if left < 0 {
		return 0
	}
	return left
}

// Advance hands the turn to the next peer if turn is still the current one.
func (f FileSource) Advance(now time.Time, turn int) error {
	doc, err := f.read(now)
	if err != nil {
		return err
	}
	if doc.CurrentTurn != turn {
		return nil
	}
	next := turn%f.Peers + 1
	return storage.WriteJSON(f.Path, TurnFile{
		CurrentTurn:  next,
		Seq:          doc.Seq + 1,
		ActiveClient: f.name(next),
		LastUpdate:   now.UnixMilli(),
	})
}

// Reclaim takes the turn for a waiting peer. The peer k positions after the
// holder may do so once the file has not changed for k slots.
func (f FileSource) Reclaim(now time.Time, turn int, seq int64) (bool, error) {
	doc, err := f.read(now)
	if err != nil {
		return false, err
	}
	if doc.Seq != seq || doc.CurrentTurn == turn {
		return false, nil
	}
	ahead := (turn - doc.CurrentTurn + f.Peers) % f.Peers
	if now.Sub(time.UnixMilli(doc.LastUpdate)) < time.Duration(ahead)*f.Slot {
		return false, nil
	}
	return true, storage.WriteJSON(f.Path, TurnFile{
		CurrentTurn:  turn,
		Seq:          doc.Seq + 1,
		ActiveClient: f.name(turn),
		LastUpdate:   now.UnixMilli(),
	})
}
