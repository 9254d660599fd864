package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTurnMissed is returned by WaitForMyTurn when a whole rotation passed
// without this peer's turn coming up.
var ErrTurnMissed = errors.New("turn missed")

type State int

const (
	Idle State = iota
	Synchronizing
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Synchronizing:
		return "synchronizing"
	case Running:
		return "running"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Scheduler tracks one peer's view of the turn rotation.
type Scheduler struct {
	myTurn int
	peers  int
	slot   time.Duration

	source TurnSource
	clock  Clock
	logger *slog.Logger
	poll   time.Duration
	every  time.Duration

	state      State
	inTurn     bool
	turnSeq    int64
	completed  bool
	doneSeq    int64
	lastReason string
	missed     int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSource replaces the clock-derived turn source built by Synchronize.
func WithSource(src TurnSource) Option {
	return func(s *Scheduler) { s.source = src }
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollInterval sets how often WaitForMyTurn re-checks the turn.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// WithProgressEvery sets how often WaitForMyTurn logs the remaining wait.
func WithProgressEvery(d time.Duration) Option {
	return func(s *Scheduler) { s.every = d }
}

// New returns an idle scheduler for the peer holding myTurn in [1,peers].
func New(myTurn, peers int, slot time.Duration, opts ...Option) (*Scheduler, error) {
	if peers < 1 {
		return nil, fmt.Errorf("peers must be positive, got %d", peers)
	}
	if myTurn < 1 || myTurn > peers {
		return nil, fmt.Errorf("turn %d out of [1,%d]", myTurn, peers)
	}
	if slot <= 0 {
		return nil, fmt.Errorf("turn duration must be positive, got %v", slot)
	}
	s := &Scheduler{
		myTurn: myTurn,
		peers:  peers,
		slot:   slot,
		clock:  SystemClock{},
		logger: slog.Default(),
		poll:   100 * time.Millisecond,
		every:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) MyTurn() int         { return s.myTurn }
func (s *Scheduler) Peers() int          { return s.peers }
func (s *Scheduler) Slot() time.Duration { return s.slot }
func (s *Scheduler) State() State        { return s.state }
func (s *Scheduler) Clock() Clock        { return s.clock }
func (s *Scheduler) LastReason() string  { return s.lastReason }

// Missed counts the rotations WaitForMyTurn gave up on.
func (s *Scheduler) Missed() int { return s.missed }

// Synchronize waits until epoch and starts the rotation from it. A zero epoch
// means the allocator provided none; the local clock plus fallback is used.
func (s *Scheduler) Synchronize(ctx context.Context, epoch time.Time, fallback time.Duration) error {
	if s.state == Running {
		return nil
	}
	s.state = Synchronizing
	now := s.clock.Now()
	if epoch.IsZero() {
		epoch = now.Add(fallback)
	}
	if wait := epoch.Sub(now); wait > 0 {
		s.logger.Info("synchronizing turns", "wait", wait.Round(time.Millisecond), "peers", s.peers)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			s.state = Idle
			return err
		}
	}
	if s.source == nil {
		s.source = ClockSource{Epoch: epoch, Slot: s.slot, Peers: s.peers}
	}
	s.state = Running
	s.logger.Info("turn rotation running",
		"my_turn", s.myTurn, "peers", s.peers, "slot", s.slot, "epoch", epoch.Format(time.RFC3339Nano))
	return nil
}

func (s *Scheduler) active() (int, int64, bool) {
	if s.state != Running {
		return 0, 0, false
	}
	turn, seq, err := s.source.Active(s.clock.Now())
	if err != nil {
		s.logger.Warn("turn source unavailable", "err", err)
		return 0, 0, false
	}
	return turn, seq, true
}

// ActiveTurn returns the turn currently owning the slot, or 0 before
// synchronization.
func (s *Scheduler) ActiveTurn() int {
	turn, _, _ := s.active()
	return turn
}

// IsMyTurn reports whether this peer owns the current slot and has not yet
// completed it.
func (s *Scheduler) IsMyTurn() bool {
	turn, seq, ok := s.active()
	if !ok || turn != s.myTurn {
		return false
	}
	return !s.completed || seq != s.doneSeq
}

// StartMyTurn reports whether a turn may start now and marks it in progress.
func (s *Scheduler) StartMyTurn() bool {
	if !s.IsMyTurn() {
		return false
	}
	_, seq, _ := s.active()
	s.inTurn = true
	s.turnSeq = seq
	s.logger.Debug("turn started", "turn", s.myTurn, "slot_seq", seq, "remaining", s.RemainingTurnTime())
	return true
}

// CompleteMyTurn marks the turn in progress (or the current slot) as done.
// Repeating it within the same slot does nothing.
func (s *Scheduler) CompleteMyTurn(reason string) {
	seq := s.turnSeq
	if !s.inTurn {
		_, cur, ok := s.active()
		if !ok {
			return
		}
		seq = cur
	}
	if s.completed && s.doneSeq == seq {
		s.logger.Debug("turn already completed", "turn", s.myTurn, "slot_seq", seq)
		return
	}
	s.inTurn = false
	s.completed = true
	s.doneSeq = seq
	s.lastReason = reason
	if err := s.source.Advance(s.clock.Now(), s.myTurn); err != nil {
		s.logger.Warn("could not hand over turn", "err", err)
	}
	s.logger.Info("turn completed", "turn", s.myTurn, "reason", reason)
}

// RemainingTurnTime is the time left in the current slot.
func (s *Scheduler) RemainingTurnTime() time.Duration {
	if s.state != Running {
		return 0
	}
	return s.source.Remaining(s.clock.Now())
}

// TimeUntilMyTurn estimates the wait before this peer's next slot, assuming
// every turn lasts a full slot.
func (s *Scheduler) TimeUntilMyTurn() time.Duration {
	turn, seq, ok := s.active()
	if !ok {
		return 0
	}
	if turn == s.myTurn && (!s.completed || seq != s.doneSeq) {
		return 0
	}
	ahead := (s.myTurn - turn + s.peers) % s.peers
	if ahead == 0 {
		ahead = s.peers
	}
	return s.RemainingTurnTime() + time.Duration(ahead-1)*s.slot
}

// WaitForMyTurn blocks until IsMyTurn, calling tick between polls so inbound
// work keeps being served. An error from tick aborts the wait. When the source
// can reclaim turns, a silent holder is skipped. After a whole rotation
// without the turn coming up, ErrTurnMissed is returned so the caller can
// charge the round.
func (s *Scheduler) WaitForMyTurn(ctx context.Context, tick func() error) error {
	if s.state != Running {
		return fmt.Errorf("scheduler is %s", s.state)
	}
	start := s.clock.Now()
	lastLog := start
	rotation := time.Duration(s.peers) * s.slot
	for !s.IsMyTurn() {
		if s.reclaim() {
			continue
		}
		if tick != nil {
			if err := tick(); err != nil {
				return err
			}
		}
		now := s.clock.Now()
		if waited := now.Sub(start); waited >= rotation {
			s.missed++
			s.logger.Warn("turn missed",
				"my_turn", s.myTurn, "active", s.ActiveTurn(), "waited", waited.Round(time.Millisecond), "missed", s.missed)
			return ErrTurnMissed
		}
		if now.Sub(lastLog) >= s.every {
			lastLog = now
			s.logger.Info("waiting for turn",
				"my_turn", s.myTurn, "active", s.ActiveTurn(), "eta", s.TimeUntilMyTurn().Round(time.Second))
		}
		if err := s.clock.Sleep(ctx, s.poll); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) reclaim() bool {
	r, ok := s.source.(Reclaimer)
	if !ok {
		return false
	}
	turn, seq, ok := s.active()
	if !ok || turn == s.myTurn {
		return false
	}
	took, err := r.Reclaim(s.clock.Now(), s.myTurn, seq)
	if err != nil {
		s.logger.Warn("could not reclaim turn", "err", err)
		return false
	}
	if took {
		s.logger.Warn("took the turn from a silent peer", "silent_turn", turn, "my_turn", s.myTurn)
	}
	return took
}
