package allocator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/luca-patrignani/cardswap/protocol"
)

// ErrJoinRefused wraps an error status sent by the allocator.
var ErrJoinRefused = errors.New("join refused")

// Join registers with the allocator at addr and blocks until it hands out the
// final state. onWaiting, if set, is called for every "waiting" line.
func Join(ctx context.Context, addr string, req protocol.JoinRequest, onWaiting func()) (protocol.JoinResponse, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return protocol.JoinResponse{}, fmt.Errorf("connect to allocator %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := protocol.WriteLine(conn, req); err != nil {
		return protocol.JoinResponse{}, fmt.Errorf("send join: %w", err)
	}

	r := bufio.NewReader(conn)
	var final protocol.JoinResponse
	received := false
	for {
		line, err := protocol.ReadLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) && received {
				return final, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.JoinResponse{}, ctxErr
			}
			return protocol.JoinResponse{}, fmt.Errorf("read from allocator: %w", err)
		}
		resp, err := protocol.DecodeJoinResponse(line)
		if err != nil {
			return protocol.JoinResponse{}, fmt.Errorf("allocator answer: %w", err)
		}
		switch resp.Status {
		case protocol.StatusWaiting:
			if onWaiting != nil {
				onWaiting()
			}
		case protocol.StatusOK:
			final = resp
			received = true
		case protocol.StatusDone:
			if !received {
				return protocol.JoinResponse{}, fmt.Errorf("allocator finished without dealing a hand")
			}
			return final, nil
		case protocol.StatusError:
			return protocol.JoinResponse{}, fmt.Errorf("%w: %s", ErrJoinRefused, resp.Reason)
		}
	}
}
