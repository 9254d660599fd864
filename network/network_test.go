package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/ledger"
	"github.com/luca-patrignani/cardswap/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func peerAt(t *testing.T, name, addr string) directory.Peer {
	t.Helper()
	host, portS, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portS)
	if err != nil {
		t.Fatal(err)
	}
	return directory.Peer{Name: name, IP: host, Port: port}
}

func newServer(t *testing.T, cards []int, opts ...ServerOption) (*Server, *inventory.Inventory, string) {
	t.Helper()
	inv, err := inventory.New(cards, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	listeners, addresses := CreateListeners(1)
	opts = append([]ServerOption{WithLogger(quietLogger())}, opts...)
	s := NewServer(listeners[0], inv, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, inv, addresses[0]
}

// serveWhile drains s until fn returns, the way the peer loop does between
// polls.
func serveWhile(t *testing.T, s *Server, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("request did not complete")
		default:
		}
		if err := s.ProcessOnce(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func rawRequest(t *testing.T, s *Server, addr, line string) protocol.TradeResponse {
	t.Helper()
	var resp protocol.TradeResponse
	var reqErr error
	serveWhile(t, s, func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			reqErr = err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			reqErr = err
			return
		}
		b, err := protocol.ReadLine(bufio.NewReader(conn))
		if err != nil {
			reqErr = err
			return
		}
		resp, reqErr = protocol.DecodeTradeResponse(b)
	})
	if reqErr != nil {
		t.Fatal(reqErr)
	}
	return resp
}

func TestServerAcceptsTrade(t *testing.T) {
	journal := ledger.NewJournal("bob")
	s, inv, addr := newServer(t, []int{0, 2, 2}, WithRecorder(journal))
	client := NewClient(2 * time.Second)

	var resp protocol.TradeResponse
	var err error
	serveWhile(t, s, func() {
		resp, err = client.Trade(context.Background(), peerAt(t, "bob", addr), protocol.NewTradeRequest("alice", 1, 2))
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsAccepted() || *resp.Given != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if inv.Count(1) != 1 || inv.Count(2) != 1 || inv.Len() != 3 {
		t.Fatalf("inventory after trade: %v", inv.Cards())
	}
	if s.Stats().Accepted != 1 {
		t.Fatalf("stats = %+v", s.Stats())
	}
	trades := journal.Trades()
	if len(trades) != 1 || trades[0] != (ledger.Trade{Role: ledger.Responder, Counterparty: "alice", Gave: 2, Got: 1}) {
		t.Fatalf("journal = %+v", trades)
	}
}

func TestServerRejectsWhenWantMissing(t *testing.T) {
	s, inv, addr := newServer(t, []int{0, 1, 1})
	resp := rawRequest(t, s, addr, `{"action":"trade","offer":2,"want":7,"from":"alice"}`)
	if resp.Status != protocol.StatusRejected || !strings.Contains(resp.Reason, "insufficient count") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if inv.Len() != 3 || inv.Count(1) != 2 {
		t.Fatalf("rejected trade changed the inventory: %v", inv.Cards())
	}
}

func TestServerProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		status string
		reason string
	}{
		{"not json", `hello there`, protocol.StatusError, protocol.ReasonInvalidJSON},
		{"unknown action", `{"action":"gossip"}`, protocol.StatusError, protocol.ReasonUnknownAction},
		{"join sent to a peer", `{"action":"join","name":"x","port":1}`, protocol.StatusError, protocol.ReasonUnknownAction},
		{"json array", `[1,2]`, protocol.StatusError, protocol.ReasonUnknownAction},
		{"offer out of range", `{"action":"trade","offer":11,"want":2,"from":"a"}`, protocol.StatusRejected, protocol.ReasonInvalidNumbers},
		{"string offer", `{"action":"trade","offer":"1","want":2,"from":"a"}`, protocol.StatusRejected, protocol.ReasonInvalidNumbers},
		{"fractional want", `{"action":"trade","offer":1,"want":2.5,"from":"a"}`, protocol.StatusRejected, protocol.ReasonInvalidNumbers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, inv, addr := newServer(t, []int{0, 2, 2})
			resp := rawRequest(t, s, addr, tt.line)
			if resp.Status != tt.status || resp.Reason != tt.reason {
				t.Fatalf("got %+v, want status %q reason %q", resp, tt.status, tt.reason)
			}
			if inv.Len() != 3 || inv.Count(2) != 2 {
				t.Fatalf("inventory changed: %v", inv.Cards())
			}
		})
	}
}

func TestProcessOnceDoesNotBlock(t *testing.T) {
	s, _, _ := newServer(t, []int{1})
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := s.ProcessOnce(); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("idle ProcessOnce took %v", elapsed)
	}
}

func TestSilentClientIsDropped(t *testing.T) {
	s, inv, addr := newServer(t, []int{0, 2, 2}, WithReadTimeout(50*time.Millisecond))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// Give the acceptor time to queue the connection.
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	if err := s.ProcessOnce(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("silent client held the server for %v", elapsed)
	}
	if inv.Len() != 3 {
		t.Fatal("inventory changed")
	}
}

func TestStaleTradeIsNotApplied(t *testing.T) {
	s, inv, addr := newServer(t, []int{0, 2, 2}, WithStaleAfter(100*time.Millisecond))
	bob := peerAt(t, "bob", addr)

	// Nobody drains the queue, so the initiator gives up first.
	_, err := NewClient(100*time.Millisecond).Trade(context.Background(), bob, protocol.NewTradeRequest("alice", 1, 2))
	var te *TradeError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("err = %v, want timeout TradeError", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.ProcessOnce(); err != nil {
		t.Fatal(err)
	}
	if inv.Count(1) != 0 || inv.Count(2) != 2 || inv.Len() != 3 {
		t.Fatalf("abandoned trade was applied: %v", inv.Cards())
	}
	if st := s.Stats(); st.Stale != 1 || st.Accepted != 0 || st.Handled != 0 {
		t.Fatalf("stats = %+v", st)
	}

	resp := rawRequest(t, s, addr, `{"action":"trade","offer":1,"want":2,"from":"alice"}`)
	if !resp.IsAccepted() || inv.Count(1) != 1 {
		t.Fatalf("fresh trade: %+v, cards %v", resp, inv.Cards())
	}
}

func TestClientRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	_, err = NewClient(time.Second).Trade(context.Background(), peerAt(t, "gone", addr), protocol.NewTradeRequest("a", 1, 2))
	var te *TradeError
	if !errors.As(err, &te) || te.Kind != KindRefused || te.Peer != "gone" {
		t.Fatalf("err = %v, want refused TradeError", err)
	}
}

func TestClientTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	start := time.Now()
	_, err = NewClient(100*time.Millisecond).Trade(context.Background(), peerAt(t, "slow", l.Addr().String()), protocol.NewTradeRequest("a", 1, 2))
	var te *TradeError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("err = %v, want timeout TradeError", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("timeout not honoured: %v", elapsed)
	}
}

func TestClientMalformedAnswer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadBytes('\n')
		_, _ = io.WriteString(conn, "{\"status\":\"accepted\"}\n")
	}()

	_, err = NewClient(time.Second).Trade(context.Background(), peerAt(t, "odd", l.Addr().String()), protocol.NewTradeRequest("a", 1, 2))
	var te *TradeError
	if !errors.As(err, &te) || te.Kind != KindMalformed {
		t.Fatalf("err = %v, want malformed TradeError", err)
	}
}

func TestCloseDropsQueuedConnections(t *testing.T) {
	s, _, addr := newServer(t, []int{1})
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.ProcessOnce(); err != nil {
		t.Fatal(err)
	}
}
