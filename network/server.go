package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/ledger"
	"github.com/luca-patrignani/cardswap/protocol"
	"github.com/luca-patrignani/cardswap/trade"
)

// Stats counts what the server has answered so far.
type Stats struct {
	Handled  int
	Accepted int
	Rejected int
	Errors   int
	// Stale counts connections closed unread because they waited in the
	// queue longer than the initiator would.
	Stale    int
}

type queued struct {
	conn net.Conn
	at   time.Time
}

// Server answers trade requests against an inventory.
type Server struct {
	listener net.Listener
	inv      *inventory.Inventory

	batchSize   int
	readTimeout time.Duration
	queueSize   int
	staleAfter  time.Duration
	recorder    ledger.Recorder
	logger      *slog.Logger

	pending chan queued
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	stats Stats
}

// Listen opens a TCP listener on addr and serves inv from it.
func Listen(addr string, inv *inventory.Inventory, opts ...ServerOption) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewServer(l, inv, opts...), nil
}

// NewServer starts accepting on l. Connections are queued until ProcessOnce
// handles them.
func NewServer(l net.Listener, inv *inventory.Inventory, opts ...ServerOption) *Server {
	s := &Server{
		listener:    l,
		inv:         inv,
		batchSize:   5,
		readTimeout: 300 * time.Millisecond,
		queueSize:   64,
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pending = make(chan queued, s.queueSize)
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			select {
			case <-s.done:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		select {
		case s.pending <- queued{conn: conn, at: time.Now()}:
		case <-s.done:
			_ = conn.Close()
			return
		}
	}
}

// Addr is the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Stats() Stats {
	return s.stats
}

// ProcessOnce handles up to the batch size of queued connections and
// returns without waiting when none are queued. Connections older than the
// stale limit are closed unread, since their initiator has already given up
// and would not learn about a swap. Only a broken inventory invariant is
// reported as an error; everything else is answered or logged.
func (s *Server) ProcessOnce() error {
	for i := 0; i < s.batchSize; i++ {
		select {
		case q := <-s.pending:
			if s.staleAfter > 0 {
				if age := time.Since(q.at); age >= s.staleAfter {
					s.stats.Stale++
					s.logger.Debug("dropping stale connection", "remote", q.conn.RemoteAddr().String(), "waited", age.Round(time.Millisecond))
					_ = q.conn.Close()
					continue
				}
			}
			if err := s.handle(q.conn); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (s *Server) handle(conn net.Conn) error {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.logger.Debug("set deadline failed", "remote", remote, "err", err)
	}

	line, err := protocol.ReadLine(bufio.NewReader(io.LimitReader(conn, protocol.MaxLineBytes)))
	if err != nil {
		s.stats.Errors++
		s.logger.Debug("dropping connection", "remote", remote, "err", err)
		return nil
	}

	resp, err := s.respond(line)
	if err != nil {
		return err
	}
	s.stats.Handled++
	if err := protocol.WriteLine(conn, resp); err != nil {
		s.logger.Warn("could not answer trade", "remote", remote, "status", resp.Status, "err", err)
		return nil
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return nil
}

func (s *Server) respond(line []byte) (protocol.TradeResponse, error) {
	req, err := protocol.Decode(line)
	if err != nil {
		s.stats.Errors++
		return protocol.Failure(protocol.ReasonInvalidJSON), nil
	}
	if req.Action != protocol.ActionTrade {
		s.stats.Errors++
		return protocol.Failure(protocol.ReasonUnknownAction), nil
	}
	tr, err := req.Trade()
	if err != nil {
		s.stats.Rejected++
		s.logger.Debug("malformed trade", "err", err)
		return protocol.Rejected(protocol.ReasonInvalidNumbers), nil
	}

	d := trade.Evaluate(s.inv, tr.Offer, tr.Want)
	if !d.Accept {
		s.stats.Rejected++
		s.logger.Info("trade rejected", "from", tr.From, "offer", tr.Offer, "want", tr.Want, "reason", d.Reason)
		return protocol.Rejected(d.Reason), nil
	}
	if err := s.inv.Swap(tr.Want, tr.Offer); err != nil {
		return protocol.TradeResponse{}, fmt.Errorf("apply trade from %s: %w", tr.From, err)
	}
	s.stats.Accepted++
	s.logger.Info("trade accepted",
		"from", tr.From, "gave", tr.Want, "got", tr.Offer, "reason", d.Reason, "missing", len(s.inv.Missing()))
	if s.recorder != nil {
		if _, err := s.recorder.Record(ledger.Trade{
			Role:         ledger.Responder,
			Counterparty: tr.From,
			Gave:         tr.Want,
			Got:          tr.Offer,
		}); err != nil {
			s.logger.Warn("could not record trade", "err", err)
		}
	}
	return protocol.Accepted(tr.Want), nil
}

// Close stops accepting and drops queued connections.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.wg.Wait()
		for {
			select {
			case q := <-s.pending:
				_ = q.conn.Close()
			default:
				return
			}
		}
	})
	return err
}
