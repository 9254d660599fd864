package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/luca-patrignani/cardswap/directory"
	"github.com/luca-patrignani/cardswap/protocol"
)

type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindRefused   ErrorKind = "refused"
	KindMalformed ErrorKind = "malformed"
	KindIO        ErrorKind = "io"
)

// TradeError is a transport failure while talking to a peer.
type TradeError struct {
	Kind ErrorKind
	Peer string
	Err  error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade with %s: %s: %v", e.Peer, e.Kind, e.Err)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

func classify(err error) ErrorKind {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, protocol.ErrInvalidJSON), errors.Is(err, protocol.ErrInvalidMessage):
		return KindMalformed
	}
	return KindIO
}

// Client sends trade requests, one connection per request.
type Client struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient returns a client whose requests are bounded by timeout unless the
// caller's context expires first.
func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Trade sends req to p and waits for its answer.
func (c *Client) Trade(ctx context.Context, p directory.Peer, req protocol.TradeRequest) (protocol.TradeResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	fail := func(err error) (protocol.TradeResponse, error) {
		return protocol.TradeResponse{}, &TradeError{Kind: classify(err), Peer: p.Name, Err: err}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return fail(err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := protocol.WriteLine(conn, req); err != nil {
		return fail(err)
	}
	line, err := protocol.ReadLine(bufio.NewReader(io.LimitReader(conn, protocol.MaxLineBytes)))
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("connection closed without answer: %w", err)
		}
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return fail(err)
	}
	resp, err := protocol.DecodeTradeResponse(line)
	if err != nil {
		return fail(err)
	}
	return resp, nil
}
