package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewJournal(t *testing.T) {
	j := NewJournal("alice")
	genesis := j.Latest()
	if genesis.Index != 0 || genesis.PrevHash != "0" || genesis.Trade.Role != Genesis {
		t.Fatalf("unexpected genesis %+v", genesis)
	}
	if genesis.Hash == "" || genesis.ID == "" {
		t.Fatal("genesis must carry an id and a hash")
	}
	if j.Len() != 0 {
		t.Fatalf("Len = %d, want 0", j.Len())
	}
	if err := j.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordLinksEntries(t *testing.T) {
	j := NewJournal("alice")
	trades := []Trade{
		{Role: Initiator, Counterparty: "bob", Gave: 0, Got: 2},
		{Role: Responder, Counterparty: "carol", Gave: 5, Got: 7},
	}
	for _, tr := range trades {
		if _, err := j.Record(tr); err != nil {
			t.Fatal(err)
		}
	}
	if j.Len() != 2 {
		t.Fatalf("Len = %d, want 2", j.Len())
	}
	e1, _ := j.ByIndex(1)
	e2, _ := j.ByIndex(2)
	if e2.PrevHash != e1.Hash {
		t.Fatal("entries not linked")
	}
	if e1.ID == e2.ID {
		t.Fatal("entry ids must be unique")
	}
	got := j.Trades()
	for i := range trades {
		if got[i] != trades[i] {
			t.Fatalf("trade %d = %+v, want %+v", i, got[i], trades[i])
		}
	}
	if err := j.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordRejectsInvalidTrades(t *testing.T) {
	j := NewJournal("alice")
	bad := []Trade{
		{Role: "observer", Counterparty: "bob", Gave: 1, Got: 2},
		{Role: Initiator, Gave: 1, Got: 2},
		{Role: Responder, Counterparty: "bob", Gave: 11, Got: 2},
	}
	for _, tr := range bad {
		if _, err := j.Record(tr); err == nil {
			t.Fatalf("accepted invalid trade %+v", tr)
		}
	}
	if j.Len() != 0 {
		t.Fatal("invalid trades were appended")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	j := NewJournal("alice")
	for i := 0; i < 3; i++ {
		if _, err := j.Record(Trade{Role: Initiator, Counterparty: "bob", Gave: i, Got: i + 1}); err != nil {
			t.Fatal(err)
		}
	}
	entries := j.Entries()
	entries[2].Trade.Got = 9
	if err := VerifyChain(entries); err == nil {
		t.Fatal("modified entry not detected")
	}
	if err := j.Verify(); err != nil {
		t.Fatalf("Entries must return a copy: %v", err)
	}
	if _, err := j.ByIndex(4); err == nil {
		t.Fatal("ByIndex accepted an out of range index")
	}
}

type failingSink struct{ appends int }

func (s *failingSink) Append(Entry) error { s.appends++; return io.ErrClosedPipe }
func (s *failingSink) Close() error       { return nil }

func TestSinkFailureIsNotFatal(t *testing.T) {
	sink := &failingSink{}
	j := NewJournal("alice", WithSink(sink), WithLogger(quietLogger()))
	if _, err := j.Record(Trade{Role: Responder, Counterparty: "bob", Gave: 3, Got: 4}); err != nil {
		t.Fatal(err)
	}
	if sink.appends != 2 {
		t.Fatalf("sink saw %d appends, want 2 (genesis and trade)", sink.appends)
	}
}

func TestSQLiteSinkMirrorsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	sink, err := OpenSQLite(path, "alice")
	if err != nil {
		t.Fatal(err)
	}
	j := NewJournal("alice", WithSink(sink), WithLogger(quietLogger()))
	if _, err := j.Record(Trade{Role: Initiator, Counterparty: "bob", Gave: 1, Got: 6}); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Record(Trade{Role: Responder, Counterparty: "carol", Gave: 2, Got: 8}); err != nil {
		t.Fatal(err)
	}

	stored, err := sink.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := j.Entries()
	if len(stored) != len(want) {
		t.Fatalf("stored %d entries, want %d", len(stored), len(want))
	}
	for i := range want {
		if stored[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, stored[i], want[i])
		}
	}
	if err := VerifyChain(stored); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExportZstdRoundTrip(t *testing.T) {
	j := NewJournal("alice")
	for i := 0; i < 4; i++ {
		if _, err := j.Record(Trade{Role: Initiator, Counterparty: "bob", Gave: i, Got: 10 - i}); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "out", ExportFile)
	if err := j.ExportZstd(path); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadExport(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("exported %d entries, want 5", len(entries))
	}
	if err := VerifyChain(entries); err != nil {
		t.Fatal(err)
	}
}
