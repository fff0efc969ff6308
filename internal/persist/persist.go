// Package persist is the optional durable-persistence collaborator for
// the caches. It stores one JSON snapshot per namespace in SQLite so
// learned preferences and coordinate mappings survive server restarts.
//
// Persistence is an optimization, never a correctness requirement:
// every caller treats save/load failures as degraded-but-nonfatal and
// keeps working from memory.
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is a namespace→JSON blob store backed by SQLite.
// A disabled Store is valid: every operation becomes a no-op.
type Store struct {
	db      *sql.DB
	enabled bool
}

// Disabled returns a Store whose operations are all no-ops. The server
// uses this when persistence is turned off or fails to initialize.
func Disabled() *Store {
	return &Store{}
}

// Open creates the data directory if needed, opens SQLite with WAL
// mode, and runs the schema migration.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("persist: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "xcpilot.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("persist: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("persist: pragma %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS cache_state (
			namespace  TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("persist: migration: %w", err)
	}

	return &Store{db: db, enabled: true}, nil
}

// Enabled reports whether the store is backed by a live database.
func (s *Store) Enabled() bool {
	return s != nil && s.enabled
}

// SaveState serializes v as JSON and upserts it under namespace.
// Callers log and absorb errors — a save failure must never break a
// tool call.
func (s *Store) SaveState(namespace string, v any) error {
	if !s.Enabled() {
		return nil
	}
	if namespace == "" {
		return fmt.Errorf("persist: empty namespace")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", namespace, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO cache_state (namespace, payload, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(namespace) DO UPDATE SET
		   payload = excluded.payload,
		   updated_at = datetime('now')`,
		namespace, string(payload),
	)
	if err != nil {
		return fmt.Errorf("persist: save %s: %w", namespace, err)
	}
	return nil
}

// LoadState unmarshals the snapshot stored under namespace into v.
// Returns false when no snapshot exists.
func (s *Store) LoadState(namespace string, v any) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM cache_state WHERE namespace = ?`, namespace,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persist: load %s: %w", namespace, err)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, fmt.Errorf("persist: unmarshal %s: %w", namespace, err)
	}
	return true, nil
}

// DeleteState removes the snapshot stored under namespace, if any.
func (s *Store) DeleteState(namespace string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM cache_state WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("persist: delete %s: %w", namespace, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}
