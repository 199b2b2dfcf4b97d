// Package localstate persists the device's own session snapshot so a
// process restart can rehydrate mid-muster. Rehydration is a discrete
// startup step: elapsed time is recomputed from the saved resume timestamp,
// never replayed from a ticking counter.
package localstate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tarcisiodg/musterctl/internal/muster"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	doc BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
`

// File holds the snapshot in a small local SQLite database.
type File struct {
	db *sql.DB
}

func Open(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("localstate: missing database path")
	}
	db, err := openDB("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("localstate: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstate: bootstrap schema: %w", err)
	}
	return &File{db: db}, nil
}

// Save replaces the stored snapshot with the current session.
func (f *File) Save(s *muster.Session, now time.Time) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("localstate: encode session: %w", err)
	}
	_, err = f.db.Exec(
		`INSERT INTO session_snapshot (id, doc, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, saved_at = excluded.saved_at`,
		raw, now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("localstate: save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored session snapshot, or ok=false when none exists.
func (f *File) Load() (*muster.Session, bool, error) {
	var raw []byte
	err := f.db.QueryRow(`SELECT doc FROM session_snapshot WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("localstate: load snapshot: %w", err)
	}
	var s muster.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("localstate: decode snapshot: %w", err)
	}
	return &s, true, nil
}

// Clear drops the stored snapshot. Called on finish, forced close, and
// logout so a cleared session never resurrects.
func (f *File) Clear() error {
	if _, err := f.db.Exec(`DELETE FROM session_snapshot WHERE id = 1`); err != nil {
		return fmt.Errorf("localstate: clear snapshot: %w", err)
	}
	return nil
}

func (f *File) Close() error {
	return f.db.Close()
}
