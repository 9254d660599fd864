// Package network carries trade requests between peers over TCP.
//
// # Core Components
//
// Server: the inbound side. A background goroutine accepts connections and
// queues them; ProcessOnce drains a bounded batch of them on the caller's
// goroutine, so the inventory is only ever touched by the peer's control
// loop.
//
// Client: the outbound side. One connection per request, one JSON line each
// way, bounded by the context deadline.
//
// # Errors
//
// Transport failures are reported as *TradeError with a Kind (timeout,
// refused, malformed, io). Protocol errors from the remote side are answered
// structurally and never surface as Go errors on the server.
package network
