package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/ledger"
	"github.com/luca-patrignani/cardswap/protocol"
	"github.com/luca-patrignani/cardswap/schedule"
)

// Transport delivers one trade request to a peer and returns its answer.
type Transport interface {
	Trade(ctx context.Context, p directory.Peer, req protocol.TradeRequest) (protocol.TradeResponse, error)
}

// Params bounds a negotiation pass.
type Params struct {
	// Attempts is the number of rounds spent with one peer.
	Attempts int

	// Timeout bounds connect plus read of a single request.
	Timeout      time.Duration
	AttemptPause time.Duration
	PeerPause    time.Duration

	// MaxWants and MaxOffers cap the candidate pairs tried per round.
	MaxWants  int
	MaxOffers int
}

// Stats counts the initiator side of trading.
type Stats struct {
	Requests  int
	Completed int
}

// Negotiator proposes trades to the other peers during this peer's turn.
type Negotiator struct {
	self      string
	inv       *inventory.Inventory
	peers     []directory.Peer
	transport Transport
	params    Params

	rand     *rand.Rand
	recorder ledger.Recorder
	logger   *slog.Logger

	stats Stats
}

// NegotiatorOption configures a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithRand fixes the source used to shuffle peers and offers.
func WithRand(r *rand.Rand) NegotiatorOption {
	return func(n *Negotiator) { n.rand = r }
}

// WithRecorder records every completed trade as initiator.
func WithRecorder(r ledger.Recorder) NegotiatorOption {
	return func(n *Negotiator) { n.recorder = r }
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNegotiator trades inv with peers, which must not include self.
func NewNegotiator(self string, inv *inventory.Inventory, peers []directory.Peer, t Transport, p Params, opts ...NegotiatorOption) *Negotiator {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MaxWants < 1 {
		p.MaxWants = 1
	}
	if p.MaxOffers < 1 {
		p.MaxOffers = 1
	}
	n := &Negotiator{
		self:      self,
		inv:       inv,
		peers:     append([]directory.Peer(nil), peers...),
		transport: t,
		params:    p,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Negotiator) Stats() Stats {
	return n.stats
}

// Negotiate runs one pass over the other peers in random order. It reports
// true when the collection is complete or at least one trade went through.
// Errors are either a broken inventory invariant or ctx's error.
func (n *Negotiator) Negotiate(ctx context.Context) (bool, error) {
	if n.inv.IsComplete() {
		return true, nil
	}
	if len(n.inv.Duplicates()) == 0 || len(n.inv.Missing()) == 0 {
		n.logger.Info("nothing to trade", "missing", n.inv.Missing(), "duplicates", n.inv.Duplicates())
		return false, nil
	}

	order := append([]directory.Peer(nil), n.peers...)
	n.rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	traded := false
	for i, p := range order {
		if n.inv.IsComplete() {
			break
		}
		ok, err := n.NegotiateWithPeer(ctx, p)
		traded = traded || ok
		if err != nil {
			return traded, err
		}
		if i < len(order)-1 && !n.inv.IsComplete() {
			if err := schedule.Sleep(ctx, n.params.PeerPause); err != nil {
				return traded, err
			}
		}
	}
	return traded, nil
}

// NegotiateWithPeer runs up to Attempts rounds with p. Each round tries the
// lowest missing values against a few duplicates and stops at the first
// accepted pair; a round without a trade ends the exchange with p.
func (n *Negotiator) NegotiateWithPeer(ctx context.Context, p directory.Peer) (bool, error) {
	traded := false
	for attempt := 0; attempt < n.params.Attempts; attempt++ {
		if n.inv.IsComplete() {
			break
		}
		missing := n.inv.Missing()
		dups := n.inv.Duplicates()
		if len(missing) == 0 || len(dups) == 0 {
			break
		}
		n.rand.Shuffle(len(dups), func(i, j int) { dups[i], dups[j] = dups[j], dups[i] })
		wants := missing[:min(len(missing), n.params.MaxWants)]
		offers := dups[:min(len(dups), n.params.MaxOffers)]

		ok, err := n.round(ctx, p, wants, offers)
		if err != nil {
			return traded, err
		}
		if !ok {
			break
		}
		traded = true
		if attempt < n.params.Attempts-1 {
			if err := schedule.Sleep(ctx, n.params.AttemptPause); err != nil {
				return traded, err
			}
		}
	}
	return traded, nil
}

func (n *Negotiator) round(ctx context.Context, p directory.Peer, wants, offers []int) (bool, error) {
	for _, want := range wants {
		for _, offer := range offers {
			ok, err := n.propose(ctx, p, offer, want)
			if err != nil || ok {
				return ok, err
			}
		}
	}
	return false, nil
}

func (n *Negotiator) propose(ctx context.Context, p directory.Peer, offer, want int) (bool, error) {
	reqCtx := ctx
	if n.params.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, n.params.Timeout)
		defer cancel()
	}
	n.stats.Requests++
	resp, err := n.transport.Trade(reqCtx, p, protocol.NewTradeRequest(n.self, offer, want))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		n.logger.Debug("trade request failed", "peer", p.Name, "offer", offer, "want", want, "err", err)
		return false, nil
	}
	if !resp.IsAccepted() {
		n.logger.Debug("trade refused", "peer", p.Name, "offer", offer, "want", want, "status", resp.Status, "reason", resp.Reason)
		return false, nil
	}
	given := *resp.Given
	if !inventory.Valid(given) {
		n.logger.Warn("peer gave an invalid card", "peer", p.Name, "given", given)
		return false, nil
	}
	if err := n.inv.Swap(offer, given); err != nil {
		if errors.Is(err, inventory.ErrInvariantViolation) {
			return false, fmt.Errorf("apply trade with %s: %w", p.Name, err)
		}
		n.logger.Warn("could not apply trade", "peer", p.Name, "err", err)
		return false, nil
	}
	n.stats.Completed++
	n.logger.Info("trade completed", "peer", p.Name, "gave", offer, "got", given, "missing", len(n.inv.Missing()))
	if n.recorder != nil {
		if _, err := n.recorder.Record(ledger.Trade{
			Role:         ledger.Initiator,
			Counterparty: p.Name,
			Gave:         offer,
			Got:          given,
		}); err != nil {
			n.logger.Warn("could not record trade", "err", err)
		}
	}
	return true, nil
}
