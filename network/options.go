package network

import (
	"log/slog"
	"time"

	"github.com/luca-patrignani/cardswap/ledger"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBatchSize bounds the connections handled by one ProcessOnce call.
func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithReadTimeout bounds the time a peer has to send its request.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithQueueSize bounds the connections accepted but not yet handled.
func WithQueueSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithStaleAfter closes, without reading, connections that waited in the
// queue for d or longer. It should match the timeout initiators use, so a
// trade nobody waits for is never applied. Zero keeps every connection.
func WithStaleAfter(d time.Duration) ServerOption {
	return func(s *Server) {
		if d >= 0 {
			s.staleAfter = d
		}
	}
}

// WithRecorder records every accepted trade.
func WithRecorder(r ledger.Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
