package allocator

import (
	"bufio"
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/inventory"
	"github.com/luca-patrignani/cardswap/protocol"
)

// Config sizes the cohort and paces the join exchange.
type Config struct {
	TotalPeers int
	HandSize   int

	// StartDelay is added to the moment the cohort fills to obtain the epoch
	// of the turn clock, giving every peer time to receive its state.
	StartDelay time.Duration

	// WaitingEvery is the interval between "waiting" lines.
	WaitingEvery time.Duration
	ReadTimeout  time.Duration

	// Stream feeds the card draws; nil uses the suite's random stream.
	Stream cipher.Stream
	Logger *slog.Logger
}

func (c *Config) setDefaults() error {
	if c.TotalPeers < 1 {
		return fmt.Errorf("total peers must be positive, got %d", c.TotalPeers)
	}
	if c.HandSize < 1 || c.HandSize > inventory.NumValues {
		return fmt.Errorf("hand size %d out of [1,%d]", c.HandSize, inventory.NumValues)
	}
	if c.WaitingEvery <= 0 {
		c.WaitingEvery = time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

const writeTimeout = 2 * time.Second

// Server runs the join protocol. Each joiner is served on its own goroutine.
type Server struct {
	cfg      Config
	listener net.Listener
	registry *Registry
	pool     *Pool
	logger   *slog.Logger

	mu        sync.Mutex
	epoch     time.Time
	cancels   map[string]context.CancelFunc
	delivered map[string]bool

	full         chan struct{}
	complete     chan struct{}
	completeOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer prepares a server on l. The pool holds TotalPeers copies of each
// card value.
func NewServer(l net.Listener, cfg Config) (*Server, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		listener:  l,
		registry:  NewRegistry(cfg.TotalPeers),
		pool:      NewPool(cfg.TotalPeers, cfg.Stream),
		logger:    cfg.Logger,
		cancels:   make(map[string]context.CancelFunc),
		delivered: make(map[string]bool),
		full:      make(chan struct{}),
		complete:  make(chan struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Pool() *Pool {
	return s.pool
}

// Epoch is the turn clock origin, zero until the cohort is full.
func (s *Server) Epoch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Serve accepts joiners until every peer has received its final state or ctx
// is done. It closes the listener before returning.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.complete:
		}
		_ = s.listener.Close()
	}()

	s.logger.Info("allocator listening", "addr", s.listener.Addr().String(), "peers", s.cfg.TotalPeers, "hand", s.cfg.HandSize)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
	s.wg.Wait()

	select {
	case <-s.complete:
		s.logger.Info("every peer received its state", "peers", s.cfg.TotalPeers)
		return nil
	default:
		return ctx.Err()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		s.logger.Warn("unexpected remote address", "addr", conn.RemoteAddr().String(), "err", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	line, err := protocol.ReadLine(bufio.NewReader(io.LimitReader(conn, protocol.MaxLineBytes)))
	if err != nil {
		s.logger.Debug("dropping connection", "remote", host, "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	req, err := protocol.Decode(line)
	if err != nil {
		s.reply(conn, protocol.JoinResponse{Status: protocol.StatusError, Reason: protocol.ReasonInvalidJSON})
		return
	}
	if req.Action != protocol.ActionJoin {
		s.reply(conn, protocol.JoinResponse{Status: protocol.StatusError, Reason: protocol.ReasonUnsupportedAction})
		return
	}
	jr, err := req.Join()
	if err != nil {
		s.logger.Debug("malformed join", "remote", host, "err", err)
		s.reply(conn, protocol.JoinResponse{Status: protocol.StatusError, Reason: protocol.ReasonInvalidJoin})
		return
	}

	hctx, hcancel := context.WithCancel(ctx)
	defer hcancel()
	peer := directory.Peer{Name: jr.Name, IP: host, Port: jr.Port}
	m, err := s.register(peer, hcancel)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, ErrCohortFull) {
			reason = protocol.ReasonCohortFull
		}
		s.logger.Warn("join refused", "peer", peer.String(), "err", err)
		s.reply(conn, protocol.JoinResponse{Status: protocol.StatusError, Reason: reason})
		return
	}

	ticker := time.NewTicker(s.cfg.WaitingEvery)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-s.full:
			waiting = false
		case <-hctx.Done():
			s.logger.Debug("join handler stopped", "peer", m.Peer.Name, "err", hctx.Err())
			return
		case <-ticker.C:
			if !s.reply(conn, protocol.JoinResponse{Status: protocol.StatusWaiting}) {
				return
			}
		}
	}

	ok := protocol.JoinResponse{
		Status:  protocol.StatusOK,
		Peers:   s.registry.Peers(),
		Numbers: m.Cards,
		Turn:    m.Turn,
		Epoch:   s.Epoch().UnixMilli(),
	}
	if !s.reply(conn, ok) || !s.reply(conn, protocol.JoinResponse{Status: protocol.StatusDone}) {
		return
	}
	s.markDelivered(m.Peer.Name)
	s.logger.Info("state delivered", "peer", m.Peer.Name, "turn", m.Turn, "cards", m.Cards)
}

func (s *Server) register(p directory.Peer, cancel context.CancelFunc) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, rejoin, err := s.registry.Register(p, func() ([]int, error) {
		return s.pool.Draw(s.cfg.HandSize)
	})
	if err != nil {
		return Member{}, err
	}
	if old, ok := s.cancels[p.Name]; ok && rejoin {
		old()
	}
	s.cancels[p.Name] = cancel
	s.logger.Info("peer registered",
		"peer", p.String(), "turn", m.Turn, "rejoin", rejoin, "registered", s.registry.Len(), "of", s.cfg.TotalPeers)

	if !rejoin && s.registry.Full() {
		s.epoch = time.Now().Add(s.cfg.StartDelay)
		close(s.full)
		s.logger.Info("cohort complete", "epoch", s.epoch.Format(time.RFC3339Nano), "pool_left", s.pool.Remaining())
	}
	return m, nil
}

func (s *Server) markDelivered(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[name] = true
	if len(s.delivered) == s.cfg.TotalPeers {
		s.completeOnce.Do(func() { close(s.complete) })
	}
}

func (s *Server) reply(conn net.Conn, resp protocol.JoinResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.WriteLine(conn, resp); err != nil {
		s.logger.Debug("joiner unreachable", "remote", conn.RemoteAddr().String(), "status", resp.Status, "err", err)
		return false
	}
	return true
}
