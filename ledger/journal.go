package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is implemented by anything that records completed trades.
type Recorder interface {
	Record(t Trade) (Entry, error)
}

// Sink receives each entry after it has been linked into the chain.
type Sink interface {
	Append(e Entry) error
	Close() error
}

type Journal struct {
	mu      sync.RWMutex
	owner   string
	entries []Entry
	sinks   []Sink
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithSink mirrors entries to s. Sink errors are logged, never returned.
func WithSink(s Sink) Option {
	return func(j *Journal) { j.sinks = append(j.sinks, s) }
}

// WithLogger reports sink failures to l.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// NewJournal creates a journal for owner holding only the genesis entry.
// The genesis entry has index 0 and previous hash "0".
func NewJournal(owner string, opts ...Option) *Journal {
	j := &Journal{
		owner:  owner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	genesis := Entry{
		Index:     0,
		ID:        uuid.NewString(),
		Timestamp: j.now().UnixMilli(),
		PrevHash:  "0",
		Trade:     Trade{Role: Genesis, Counterparty: owner},
	}
	genesis.Hash = calculateHash(genesis)
	j.entries = []Entry{genesis}
	j.mirror(genesis)
	return j
}

// Owner is the name of the peer whose trades are recorded.
func (j *Journal) Owner() string {
	return j.owner
}

// Record links t at the end of the chain.
func (j *Journal) Record(t Trade) (Entry, error) {
	if err := t.validate(); err != nil {
		return Entry{}, fmt.Errorf("invalid trade: %w", err)
	}
	j.mu.Lock()
	latest := j.entries[len(j.entries)-1]
	e := Entry{
		Index:     latest.Index + 1,
		ID:        uuid.NewString(),
		Timestamp: j.now().UnixMilli(),
		PrevHash:  latest.Hash,
		Trade:     t,
	}
	e.Hash = calculateHash(e)
	if err := validateEntry(e, latest); err != nil {
		j.mu.Unlock()
		return Entry{}, fmt.Errorf("invalid entry: %w", err)
	}
	j.entries = append(j.entries, e)
	j.mu.Unlock()

	j.mirror(e)
	return e, nil
}

func (j *Journal) mirror(e Entry) {
	for _, s := range j.sinks {
		if err := s.Append(e); err != nil {
			j.logger.Warn("ledger sink append failed", "index", e.Index, "err", err)
		}
	}
}

// Latest returns the most recent entry.
func (j *Journal) Latest() Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1]
}

// ByIndex returns the entry at index.
func (j *Journal) ByIndex(index int) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.entries) {
		return Entry{}, fmt.Errorf("index %d out of range", index)
	}
	return j.entries[index], nil
}

// Entries returns a copy of the chain, genesis included.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Entry(nil), j.entries...)
}

// Trades returns the recorded trades in order, without the genesis entry.
func (j *Journal) Trades() []Trade {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Trade, 0, len(j.entries)-1)
	for _, e := range j.entries[1:] {
		out = append(out, e.Trade)
	}
	return out
}

// Len counts recorded trades.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries) - 1
}

// Verify checks the whole chain.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return VerifyChain(j.entries)
}

// Close closes every sink.
func (j *Journal) Close() error {
	var firstErr error
	for _, s := range j.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// VerifyChain validates genesis, index continuity, hash linkage and every
// entry's own hash.
func VerifyChain(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("empty journal")
	}
	if entries[0].PrevHash != "0" || entries[0].Index != 0 {
		return fmt.Errorf("invalid genesis entry")
	}
	if h := calculateHash(entries[0]); entries[0].Hash != h {
		return fmt.Errorf("genesis: invalid hash: expected %s, got %s", h, entries[0].Hash)
	}
	for i := 1; i < len(entries); i++ {
		if err := validateEntry(entries[i], entries[i-1]); err != nil {
			return fmt.Errorf("entry %d invalid: %w", i, err)
		}
	}
	return nil
}

func validateEntry(current, previous Entry) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("invalid index: expected %d, got %d", previous.Index+1, current.Index)
	}
	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}
	if h := calculateHash(current); current.Hash != h {
		return fmt.Errorf("invalid hash: expected %s, got %s", h, current.Hash)
	}
	return nil
}

func calculateHash(e Entry) string {
	data := fmt.Sprintf("%d|%s|%d|%s|%s|%s|%d|%d",
		e.Index,
		e.ID,
		e.Timestamp,
		e.PrevHash,
		e.Trade.Role,
		e.Trade.Counterparty,
		e.Trade.Gave,
		e.Trade.Got,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
