// Package protocol defines the newline-delimited JSON messages exchanged
// between peers and with the allocator.
//
// # Framing
//
// Every message is one JSON object followed by '\n'. There is no length
// prefix; a connection carries one request and one response (the join
// exchange is the exception: the allocator streams status lines until done).
//
// # Validation
//
// Inbound lines are decoded once into a generic document and checked against
// embedded JSON schemas before being converted into typed messages.
package protocol

import "github.com/luca-patrignani/cardswap/directory"

// Actions.
const (
	ActionJoin  = "join"
	ActionTrade = "trade"
)

// Response statuses.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusError    = "error"
	StatusOK       = "ok"
	StatusWaiting  = "waiting"
	StatusDone     = "done"
)

// Error reasons.
const (
	ReasonInvalidJSON       = "invalid_json"
	ReasonUnknownAction     = "unknown_action"
	ReasonUnsupportedAction = "unsupported_action"
	ReasonInvalidNumbers    = "invalid numbers"
	ReasonInvalidJoin       = "invalid_join"
	ReasonCohortFull        = "cohort_full"
)

// TradeRequest asks the receiver to give Want in exchange for Offer.
type TradeRequest struct {
	Action string `json:"action"`
	Offer  int    `json:"offer"`
	Want   int    `json:"want"`
	From   string `json:"from"`
}

// NewTradeRequest fills in the action field.
func NewTradeRequest(from string, offer, want int) TradeRequest {
	return TradeRequest{Action: ActionTrade, Offer: offer, Want: want, From: from}
}

// TradeResponse answers a TradeRequest. Given is set only when accepted.
type TradeResponse struct {
	Status string `json:"status"`
	Given  *int   `json:"given,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func Accepted(given int) TradeResponse {
	return TradeResponse{Status: StatusAccepted, Given: &given}
}

func Rejected(reason string) TradeResponse {
	return TradeResponse{Status: StatusRejected, Reason: reason}
}

func Failure(reason string) TradeResponse {
	return TradeResponse{Status: StatusError, Reason: reason}
}

// IsAccepted reports whether the response carries an accepted trade.
func (r TradeResponse) IsAccepted() bool {
	return r.Status == StatusAccepted && r.Given != nil
}

// JoinRequest registers a peer with the allocator.
type JoinRequest struct {
	Action string `json:"action"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
}

// NewJoinRequest fills in the action field.
func NewJoinRequest(name string, port int) JoinRequest {
	return JoinRequest{Action: ActionJoin, Name: name, Port: port}
}

// JoinResponse is one status line streamed by the allocator. Peers, Numbers,
// Turn and Epoch are set only on the "ok" line. Epoch is the shared turn
// clock origin in unix milliseconds.
type JoinResponse struct {
	Status  string           `json:"status"`
	Peers   []directory.Peer `json:"peers,omitempty"`
	Numbers []int            `json:"numbers,omitempty"`
	Turn    int              `json:"turn,omitempty"`
	Epoch   int64            `json:"epoch,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}
