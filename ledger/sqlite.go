package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteSink mirrors journal entries into a local SQLite database.
type SQLiteSink struct {
	db    *sql.DB
	owner string
}

// OpenSQLite opens (creating if needed) the database at path. Entries are
// tagged with owner so several peers may share one file.
func OpenSQLite(path, owner string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db, owner: owner}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS trades (
			owner TEXT NOT NULL,
			idx INTEGER NOT NULL,
			id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			role TEXT NOT NULL,
			counterparty TEXT NOT NULL,
			gave INTEGER NOT NULL,
			got INTEGER NOT NULL,
			PRIMARY KEY (owner, id)
		);`,
		"CREATE INDEX IF NOT EXISTS trades_owner_idx ON trades(owner, idx);",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) Append(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (owner, idx, id, ts, prev_hash, hash, role, counterparty, gave, got)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.owner, e.Index, e.ID, e.Timestamp, e.PrevHash, e.Hash,
		string(e.Trade.Role), e.Trade.Counterparty, e.Trade.Gave, e.Trade.Got,
	)
	return err
}

// Entries loads this owner's entries ordered by index. A database holding
// entries from several runs returns all of them.
func (s *SQLiteSink) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, id, ts, prev_hash, hash, role, counterparty, gave, got
		 FROM trades WHERE owner = ? ORDER BY ts, idx`, s.owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&e.Index, &e.ID, &e.Timestamp, &e.PrevHash, &e.Hash,
			&role, &e.Trade.Counterparty, &e.Trade.Gave, &e.Trade.Got); err != nil {
			return nil, err
		}
		e.Trade.Role = Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
