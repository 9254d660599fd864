package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/ledger"
	"github.com/luca-patrignani/cardswap/protocol"
)

// fakeNet answers requests the way a remote peer's server would, directly
// against that peer's inventory.
type fakeNet struct {
	invs     map[string]*inventory.Inventory
	down     map[string]bool
	requests []protocol.TradeRequest
}

var errUnreachable = errors.New("connection refused")

func (f *fakeNet) Trade(ctx context.Context, p directory.Peer, req protocol.TradeRequest) (protocol.TradeResponse, error) {
	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return protocol.TradeResponse{}, err
	}
	if f.down[p.Name] {
		return protocol.TradeResponse{}, errUnreachable
	}
	inv := f.invs[p.Name]
	d := Evaluate(inv, req.Offer, req.Want)
	if !d.Accept {
		return protocol.Rejected(d.Reason), nil
	}
	if err := inv.Swap(req.Want, req.Offer); err != nil {
		return protocol.TradeResponse{}, err
	}
	return protocol.Accepted(req.Want), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() Params {
	return Params{Attempts: 3, MaxWants: 3, MaxOffers: 2}
}

type cohort struct {
	net   *fakeNet
	names []string
}

func newCohort(t *testing.T, hands map[string][]int) *cohort {
	t.Helper()
	c := &cohort{net: &fakeNet{invs: map[string]*inventory.Inventory{}, down: map[string]bool{}}}
	for name, cards := range hands {
		c.net.invs[name] = mustInventory(t, cards...)
		c.names = append(c.names, name)
	}
	return c
}

func (c *cohort) others(self string) []directory.Peer {
	var out []directory.Peer
	for _, n := range c.names {
		if n != self {
			out = append(out, directory.Peer{Name: n, IP: "127.0.0.1", Port: 1})
		}
	}
	return out
}

func (c *cohort) negotiator(self string, seed int64, opts ...NegotiatorOption) *Negotiator {
	opts = append([]NegotiatorOption{WithRand(rand.New(rand.NewSource(seed))), WithLogger(quietLogger())}, opts...)
	return NewNegotiator(self, c.net.invs[self], c.others(self), c.net, testParams(), opts...)
}

func (c *cohort) totals() [inventory.NumValues]int {
	var out [inventory.NumValues]int
	for _, inv := range c.net.invs {
		for v := inventory.MinCard; v <= inventory.MaxCard; v++ {
			out[v-inventory.MinCard] += inv.Count(v)
		}
	}
	return out
}

func TestNegotiateCompleteContactsNobody(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": inventory.Values(),
		"b": {1, 1},
	})
	ok, err := c.negotiator("a", 1).Negotiate(context.Background())
	if err != nil || !ok {
		t.Fatalf("Negotiate = %v, %v; want true, nil", ok, err)
	}
	if len(c.net.requests) != 0 {
		t.Fatalf("complete peer sent %d requests", len(c.net.requests))
	}
}

func TestNegotiateNoDuplicates(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 1, 2},
		"b": {3, 3, 4},
	})
	ok, err := c.negotiator("a", 1).Negotiate(context.Background())
	if err != nil || ok {
		t.Fatalf("Negotiate = %v, %v; want false, nil", ok, err)
	}
	if len(c.net.requests) != 0 {
		t.Fatal("peer without duplicates sent requests")
	}
}

func TestTwoPeerSwap(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 0, 1},
		"b": {1, 2, 2},
	})
	journal := ledger.NewJournal("a")
	n := c.negotiator("a", 3, WithRecorder(journal))
	ok, err := n.Negotiate(context.Background())
	if err != nil || !ok {
		t.Fatalf("Negotiate = %v, %v; want true, nil", ok, err)
	}
	a, b := c.net.invs["a"], c.net.invs["b"]
	if a.Count(2) != 1 || a.Count(0) != 1 || b.Count(0) != 1 || b.Count(2) != 1 {
		t.Fatalf("after trade a=%v b=%v", a, b)
	}
	first := c.net.requests[0]
	if first.Offer != 0 || first.Want != 2 || first.From != "a" {
		t.Fatalf("first request = %+v, want offer 0 want 2", first)
	}
	if n.Stats().Completed != 1 {
		t.Fatalf("stats = %+v", n.Stats())
	}
	trades := journal.Trades()
	if len(trades) != 1 || trades[0] != (ledger.Trade{Role: ledger.Initiator, Counterparty: "b", Gave: 0, Got: 2}) {
		t.Fatalf("journal = %+v", trades)
	}
}

func TestRejectedEverywhereLeavesInventory(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 0, 1},
		"b": {1, 1, 0},
	})
	ok, err := c.negotiator("a", 1).Negotiate(context.Background())
	if err != nil || ok {
		t.Fatalf("Negotiate = %v, %v; want false, nil", ok, err)
	}
	if got := c.net.invs["a"].Cards(); len(got) != 3 || got[0] != 0 || got[1] != 0 || got[2] != 1 {
		t.Fatalf("inventory changed to %v", got)
	}
	// one round of 3 wants x 1 offer, then the exchange with b ends.
	if len(c.net.requests) != 3 {
		t.Fatalf("sent %d requests, want 3", len(c.net.requests))
	}
}

func TestTransportErrorsAreSoft(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 0, 1},
		"b": {1, 2, 2},
		"c": {1, 2, 2},
	})
	c.net.down["b"] = true
	ok, err := c.negotiator("a", 5).Negotiate(context.Background())
	if err != nil || !ok {
		t.Fatalf("Negotiate = %v, %v; want true, nil", ok, err)
	}
	if c.net.invs["c"].Count(0) != 1 {
		t.Fatalf("trade with reachable peer did not happen: c=%v", c.net.invs["c"])
	}
}

func TestAttemptsBoundTradesPerPeer(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 0, 0, 0, 0, 0},
		"b": {1, 1, 2, 2, 3, 3, 4, 4, 5, 5},
	})
	n := c.negotiator("a", 1)
	if _, err := n.NegotiateWithPeer(context.Background(), c.others("a")[0]); err != nil {
		t.Fatal(err)
	}
	if got := n.Stats().Completed; got != 3 {
		t.Fatalf("completed %d trades with one peer, want 3", got)
	}
}

func TestNegotiateCancelled(t *testing.T) {
	c := newCohort(t, map[string][]int{
		"a": {0, 0, 1},
		"b": {1, 2, 2},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.negotiator("a", 1).Negotiate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// Whatever sequence of turns runs, every value keeps its total count and no
// count goes negative.
func TestConservation(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const peers = 4
	pool := make([]int, 0, peers*inventory.NumValues)
	for v := inventory.MinCard; v <= inventory.MaxCard; v++ {
		for range peers {
			pool = append(pool, v)
		}
	}
	r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	hands := map[string][]int{}
	names := []string{"p1", "p2", "p3", "p4"}
	for i, name := range names {
		hands[name] = pool[i*inventory.NumValues : (i+1)*inventory.NumValues]
	}
	c := newCohort(t, hands)
	before := c.totals()

	negotiators := map[string]*Negotiator{}
	for i, name := range names {
		negotiators[name] = c.negotiator(name, int64(i))
	}
	for round := 0; round < 10; round++ {
		for _, name := range names {
			if _, err := negotiators[name].Negotiate(context.Background()); err != nil {
				t.Fatal(err)
			}
			if after := c.totals(); after != before {
				t.Fatalf("round %d turn %s: totals %v, want %v", round, name, after, before)
			}
		}
	}
	for name, inv := range c.net.invs {
		if inv.Len() != inventory.NumValues {
			t.Fatalf("%s holds %d cards, want %d", name, inv.Len(), inventory.NumValues)
		}
	}
}
