package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
			source TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			PRIMARY KEY (source, transaction_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_received_at ON webhook_events(received_at)`,

		`CREATE TABLE IF NOT EXISTS unmatched_transfers (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			transaction_id TEXT,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			narration TEXT NOT NULL,
			occurred_at DATETIME,
			customer_email TEXT,
			account_number TEXT,
			raw TEXT,
			status TEXT NOT NULL,
			resolved_reference TEXT,
			note TEXT,
			detected_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_unmatched_provider_txn
			ON unmatched_transfers(provider, transaction_id) WHERE transaction_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_unmatched_status ON unmatched_transfers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_unmatched_detected_at ON unmatched_transfers(detected_at)`,

		`CREATE TABLE IF NOT EXISTS session_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signal TEXT NOT NULL,
			reference TEXT,
			status TEXT,
			amount INTEGER NOT NULL DEFAULT 0,
			transaction_id TEXT,
			detail TEXT,
			at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_journal_reference ON session_journal(reference)`,
		`CREATE INDEX IF NOT EXISTS idx_session_journal_signal ON session_journal(signal)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}

	return nil
}

func firstLine(stmt string) string {
	for i, c := range stmt {
		if c == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
