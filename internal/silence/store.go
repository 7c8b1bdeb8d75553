// Package silence persists the user's notification-silencing choices:
// a mapping from notification identity to an absolute expiry time.
package silence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardensec/agent/internal/logging"
)

var log = logging.L("silence")

const schema = `
CREATE TABLE IF NOT EXISTS silences (
    identity   TEXT PRIMARY KEY,
    expires_at INTEGER NOT NULL
);
`

// Entry is one stored silence.
type Entry struct {
	Identity  string
	ExpiresAt time.Time
}

// Store is a durable identity → expiry map backed by SQLite.
// Expired entries are deleted lazily on the first read past expiry;
// there is no background sweep.
type Store struct {
	db *sql.DB
}

// Open creates or opens the silence database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("silence: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "silences.db")
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("silence: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("silence: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsSilenced reports whether the identity is silenced at the given time.
// An entry found expired is deleted before returning false.
func (s *Store) IsSilenced(identity string, now time.Time) bool {
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT expires_at FROM silences WHERE identity = ?`, identity,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		log.Error("silence lookup failed", "identity", identity, "error", err)
		return false
	}

	if now.Unix() < expiresAt {
		return true
	}

	// Expired silence is forgotten on first post-expiry read.
	if _, err := s.db.Exec(`DELETE FROM silences WHERE identity = ?`, identity); err != nil {
		log.Warn("failed to delete expired silence", "identity", identity, "error", err)
	}
	return false
}

// Set records a silence for identity until expiresAt, overwriting any
// existing entry.
func (s *Store) Set(identity string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO silences (identity, expires_at) VALUES (?, ?)
		 ON CONFLICT(identity) DO UPDATE SET expires_at = excluded.expires_at`,
		identity, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("silence: set %q: %w", identity, err)
	}
	return nil
}

// Clear removes the silence for a single identity.
func (s *Store) Clear(identity string) error {
	if _, err := s.db.Exec(`DELETE FROM silences WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("silence: clear %q: %w", identity, err)
	}
	return nil
}

// ClearAll removes every stored silence. Callers must confirm with the
// user before invoking this.
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM silences`); err != nil {
		return fmt.Errorf("silence: clear all: %w", err)
	}
	return nil
}

// List returns all stored silences, including expired ones not yet
// lazily removed. Used by the CLI.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT identity, expires_at FROM silences ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("silence: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var identity string
		var expiresAt int64
		if err := rows.Scan(&identity, &expiresAt); err != nil {
			return nil, fmt.Errorf("silence: scan: %w", err)
		}
		entries = append(entries, Entry{
			Identity:  identity,
			ExpiresAt: time.Unix(expiresAt, 0),
		})
	}
	return entries, rows.Err()
}
