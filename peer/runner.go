// Package peer drives a single trading participant: it joins the cohort
// through the allocator, then alternates between serving inbound trades and
// negotiating during its own turn until its collection is complete or the
// round budget runs out.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/luca-patrignani/cardswap/allocator"
	"github.com/luca-patrignani/cardswap/config"
	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/ledger"
	"github.com/luca-patrignani/cardswap/network"
	"github.com/luca-patrignani/cardswap/protocol"
	"github.com/luca-patrignani/cardswap/schedule"
	"github.com/luca-patrignani/cardswap/storage"
	"github.com/luca-patrignani/cardswap/trade"
)

type State int

const (
	Joining State = iota
	Serving
	Terminated
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Serving:
		return "serving"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Turn completion reasons.
const (
	ReasonComplete = "collection complete"
	ReasonNoTrades = "no more trades possible"
)

var errGraceOver = errors.New("grace period over")

// Report is the final state of a peer.
type Report struct {
	Name            string
	Turn            int
	Rounds          int
	Missed          int
	Complete        bool
	Cards           []int
	Missing         []int
	Duplicates      []int
	TradesInitiated int
	TradesAccepted  int
}

// Snapshot is the state a previous run left in the data directory.
type Snapshot struct {
	Cards []int
	Peers []directory.Peer
}

// Runner owns every component of one peer. It is driven from a single
// goroutine.
type Runner struct {
	cfg       config.Peer
	tuning    config.Tuning
	logger    *slog.Logger
	listener  net.Listener
	onWaiting func()

	state      State
	turn       int
	store      *storage.FileStore
	dir        directory.Directory
	inv        *inventory.Inventory
	journal    *ledger.Journal
	sink       *ledger.SQLiteSink
	server     *network.Server
	sched      *schedule.Scheduler
	negotiator *trade.Negotiator

	previous      Snapshot
	completeSince time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithListener serves inbound trades from l instead of listening on the
// configured host and port. The port advertised to the allocator is l's.
func WithListener(l net.Listener) Option {
	return func(r *Runner) { r.listener = l }
}

// WithWaitingHook is called for every "waiting" line received while joining.
func WithWaitingHook(f func()) Option {
	return func(r *Runner) { r.onWaiting = f }
}

// New prepares a runner. Nothing touches the network before Join.
func New(cfg config.Peer, tuning config.Tuning, opts ...Option) (*Runner, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("peer name is required")
	}
	if cfg.MaxRounds < 1 {
		return nil, fmt.Errorf("round budget must be positive, got %d", cfg.MaxRounds)
	}
	r := &Runner{
		cfg:    cfg,
		tuning: tuning,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("peer", cfg.Name)
	return r, nil
}

func (r *Runner) State() State { return r.state }
func (r *Runner) Turn() int    { return r.turn }

// Directory is the cohort handed out by the allocator, empty before Join.
func (r *Runner) Directory() directory.Directory {
	return r.dir
}

// Previous is what Join found in the data directory before replacing it.
func (r *Runner) Previous() Snapshot {
	return r.previous
}

// Join registers with the allocator, persists the dealt state and waits for
// the turn clock to start.
func (r *Runner) Join(ctx context.Context) error {
	r.state = Joining
	store, err := storage.NewFileStore(r.cfg.DataDir)
	if err != nil {
		return err
	}
	r.store = store
	r.previous = r.loadPrevious()

	if r.listener == nil {
		addr := net.JoinHostPort(r.cfg.ListenHost, strconv.Itoa(r.cfg.Port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		r.listener = l
	}
	port := r.cfg.Port
	if tcp, ok := r.listener.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	index := net.JoinHostPort(r.cfg.IndexIP, strconv.Itoa(r.cfg.IndexPort))
	r.logger.Info("joining", "allocator", index, "port", port)
	resp, err := allocator.Join(ctx, index, protocol.NewJoinRequest(r.cfg.Name, port), r.onWaiting)
	if err != nil {
		_ = r.listener.Close()
		return fmt.Errorf("join %s: %w", index, err)
	}
	if err := r.setup(resp); err != nil {
		r.abort()
		return err
	}

	var epoch time.Time
	if resp.Epoch > 0 {
		epoch = time.UnixMilli(resp.Epoch)
	}
	if err := r.sched.Synchronize(ctx, epoch, r.tuning.SyncDelay(r.dir.Len())); err != nil {
		r.shutdown()
		return err
	}
	r.state = Serving
	return nil
}

// loadPrevious reads the snapshot of an earlier run. It is only reported:
// the allocator's deal always replaces it.
func (r *Runner) loadPrevious() Snapshot {
	var prev Snapshot
	cards, err := r.store.LoadCards()
	if err != nil {
		r.logger.Warn("unreadable hand from a previous run", "err", err)
	}
	peers, err := r.store.LoadPeers()
	if err != nil {
		r.logger.Warn("unreadable peers from a previous run", "err", err)
	}
	prev.Cards, prev.Peers = cards, peers
	if len(cards) > 0 || len(peers) > 0 {
		r.logger.Info("replacing state from a previous run", "cards", cards, "peers", len(peers))
	}
	return prev
}

func (r *Runner) setup(resp protocol.JoinResponse) error {
	dir, err := directory.New(resp.Peers)
	if err != nil {
		return fmt.Errorf("peer directory: %w", err)
	}
	if _, ok := dir.Lookup(r.cfg.Name); !ok {
		return fmt.Errorf("allocator did not list %s among %v", r.cfg.Name, dir.Names())
	}
	r.dir = dir
	r.turn = resp.Turn
	if err := r.store.SavePeers(dir.All()); err != nil {
		r.logger.Warn("could not persist peers", "err", err)
	}

	inv, err := inventory.New(nil, r.store, r.logger)
	if err != nil {
		return err
	}
	if err := inv.Replace(resp.Numbers); err != nil {
		return fmt.Errorf("dealt hand: %w", err)
	}
	r.inv = inv

	var jopts []ledger.Option
	if r.cfg.LedgerDB != "" {
		sink, err := ledger.OpenSQLite(r.cfg.LedgerDB, r.cfg.Name)
		if err != nil {
			return err
		}
		r.sink = sink
		jopts = append(jopts, ledger.WithSink(sink))
	}
	r.journal = ledger.NewJournal(r.cfg.Name, append(jopts, ledger.WithLogger(r.logger))...)

	others := dir.Others(r.cfg.Name)
	n := len(others)
	timeout := r.tuning.TradeTimeout(n)
	r.server = network.NewServer(r.listener, inv,
		network.WithBatchSize(r.tuning.Server.BatchSize),
		network.WithReadTimeout(r.tuning.Server.ReadTimeout),
		network.WithStaleAfter(timeout),
		network.WithRecorder(r.journal),
		network.WithLogger(r.logger),
	)

	peers := dir.Len()
	slot := r.cfg.TurnDuration
	if slot <= 0 {
		slot = r.tuning.TurnDuration(peers)
	}
	sopts := []schedule.Option{
		schedule.WithLogger(r.logger),
		schedule.WithPollInterval(r.tuning.Turn.PollInterval),
	}
	if r.cfg.TurnSource == config.TurnSourceFile {
		sopts = append(sopts, schedule.WithSource(schedule.FileSource{
			Path:  r.cfg.TurnFile,
			Peers: peers,
			Slot:  slot,
			Names: dir.Names(),
		}))
	}
	sched, err := schedule.New(resp.Turn, peers, slot, sopts...)
	if err != nil {
		return err
	}
	r.sched = sched

	r.negotiator = trade.NewNegotiator(r.cfg.Name, inv, others, network.NewClient(timeout), trade.Params{
		Attempts:     r.tuning.TradeAttempts(n),
		Timeout:      timeout,
		AttemptPause: r.tuning.Trade.AttemptPause,
		PeerPause:    r.tuning.PeerPause(n),
		MaxWants:     r.tuning.Trade.MaxWants,
		MaxOffers:    r.tuning.Trade.MaxOffers,
	}, trade.WithRecorder(r.journal), trade.WithLogger(r.logger))

	r.logger.Info("joined", "turn", resp.Turn, "peers", dir.Names(), "slot", slot, "cards", inv.String())
	return nil
}

// Run plays rounds until the collection has been complete for the grace
// period or the round budget is spent. Rotations in which the turn never came
// up count against the budget. The returned report reflects the state at
// exit, also when an error is returned.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if r.state != Serving {
		return Report{}, fmt.Errorf("cannot run while %s", r.state)
	}
	defer r.shutdown()
	if !r.cfg.ServeAfterJoin {
		r.logger.Info("serving disabled, leaving after join")
		return r.report(0), nil
	}

	rounds := 0
	for rounds+r.sched.Missed() < r.cfg.MaxRounds {
		if err := r.sched.WaitForMyTurn(ctx, r.tick); err != nil {
			if errors.Is(err, errGraceOver) {
				break
			}
			if errors.Is(err, schedule.ErrTurnMissed) {
				continue
			}
			return r.report(rounds), err
		}
		if !r.sched.StartMyTurn() {
			continue
		}
		rounds++

		traded, err := r.negotiator.Negotiate(ctx)
		if err != nil {
			return r.report(rounds), err
		}
		left := r.sched.RemainingTurnTime()
		reason := ReasonNoTrades
		if r.inv.IsComplete() {
			reason = ReasonComplete
		}
		r.sched.CompleteMyTurn(reason)
		r.logger.Info("round finished",
			"round", rounds, "of", r.cfg.MaxRounds, "traded", traded, "cards", r.inv.String(), "missing", r.inv.Missing())

		if left > r.tuning.Turn.MinIdle {
			if err := r.idle(ctx, left); err != nil {
				if errors.Is(err, errGraceOver) {
					break
				}
				return r.report(rounds), err
			}
		}
	}

	rep := r.report(rounds)
	if !rep.Complete {
		r.logger.Warn("round budget spent before completion", "rounds", rounds, "missed", rep.Missed, "missing", rep.Missing)
	}
	return rep, nil
}

// tick serves queued trades and ends the run once the collection has been
// complete for longer than the grace period.
func (r *Runner) tick() error {
	if err := r.server.ProcessOnce(); err != nil {
		return err
	}
	if !r.inv.IsComplete() {
		r.completeSince = time.Time{}
		return nil
	}
	now := r.sched.Clock().Now()
	if r.completeSince.IsZero() {
		r.completeSince = now
	}
	if now.Sub(r.completeSince) >= r.cfg.GraceServe {
		r.logger.Info("collection complete, leaving", "served_for", now.Sub(r.completeSince).Round(time.Millisecond))
		return errGraceOver
	}
	return nil
}

// idle keeps serving until d has passed.
func (r *Runner) idle(ctx context.Context, d time.Duration) error {
	clock := r.sched.Clock()
	end := clock.Now().Add(d)
	for clock.Now().Before(end) {
		if err := r.tick(); err != nil {
			return err
		}
		if err := clock.Sleep(ctx, r.tuning.Turn.IdleInterval); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) report(rounds int) Report {
	rep := Report{
		Name:       r.cfg.Name,
		Turn:       r.turn,
		Rounds:     rounds,
		Complete:   r.inv.IsComplete(),
		Cards:      r.inv.Cards(),
		Missing:    r.inv.Missing(),
		Duplicates: r.inv.Duplicates(),
	}
	if r.sched != nil {
		rep.Missed = r.sched.Missed()
	}
	if r.negotiator != nil {
		rep.TradesInitiated = r.negotiator.Stats().Completed
	}
	if r.server != nil {
		rep.TradesAccepted = r.server.Stats().Accepted
	}
	return rep
}

// abort releases what a failed setup opened. Nothing is exported.
func (r *Runner) abort() {
	r.state = Terminated
	if r.server != nil {
		_ = r.server.Close()
	} else {
		_ = r.listener.Close()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("could not close trade journal", "err", err)
		}
	}
}

// shutdown closes the server, exports the journal and releases its sink.
func (r *Runner) shutdown() {
	if r.state == Terminated {
		return
	}
	r.state = Terminated
	if r.server != nil {
		if err := r.server.Close(); err != nil {
			r.logger.Debug("closing trade server", "err", err)
		}
	}
	if r.journal == nil {
		return
	}
	path := filepath.Join(r.store.Dir(), ledger.ExportFile)
	if err := r.journal.ExportZstd(path); err != nil {
		r.logger.Warn("could not export trades", "path", path, "err", err)
	}
	if err := r.journal.Close(); err != nil {
		r.logger.Warn("could not close trade journal", "err", err)
	}
}
