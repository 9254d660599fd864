// Package ledger keeps a tamper-evident history of the trades a peer took
// part in.
//
// # Core Components
//
// Journal: an append-only list of trade entries, each linked to the previous
// one by a SHA-256 hash so that any later modification breaks the chain.
//
// Entry: one completed swap seen from this peer's side (initiator or
// responder), with the counterparty and the cards that moved.
//
// # Sinks
//
// A journal can mirror every entry to a Sink. SQLiteSink stores them in a
// local database; ExportZstd writes the whole chain as compressed JSON lines
// when the peer exits.
package ledger
