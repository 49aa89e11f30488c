// Package session provides sandbox-handle and snapshot persistence using
// SQLite.
package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoSnapshot reports that the store holds no snapshot at all.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SandboxSession is the persisted handle of the single active sandbox,
// restored on server start so an idle restart does not orphan a running
// sandbox.
type SandboxSession struct {
	SandboxID string    `json:"sandbox_id"`
	Provider  string    `json:"provider"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time capture of a sandbox workspace: every file
// under the workdir (minus skip-listed directories), keyed by absolute path.
type Snapshot struct {
	ID          string            `json:"id"`
	ProjectType string            `json:"project_type,omitempty"`
	Files       map[string]string `json:"files"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store manages sandbox session and snapshot persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sandbox_session (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			sandbox_id TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			id           TEXT PRIMARY KEY,
			project_type TEXT NOT NULL DEFAULT '',
			files        TEXT NOT NULL,
			created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_created_at
			ON snapshots(created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Sandbox session (single row)
// ---------------------------------------------------------------------------

// SaveSession upserts the single active sandbox handle.
func (s *Store) SaveSession(sandboxID, provider string) error {
	_, err := s.db.Exec(
		`INSERT INTO sandbox_session (id, sandbox_id, provider, updated_at)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			sandbox_id = excluded.sandbox_id,
			provider   = excluded.provider,
			updated_at = excluded.updated_at`,
		sandboxID, provider, time.Now().UTC(),
	)
	return err
}

// LoadSession returns the persisted sandbox handle, or ("", nil) when no
// handle is stored.
func (s *Store) LoadSession() (*SandboxSession, error) {
	row := s.db.QueryRow(
		`SELECT sandbox_id, provider, updated_at FROM sandbox_session WHERE id = 1`,
	)
	sess := &SandboxSession{}
	err := row.Scan(&sess.SandboxID, &sess.Provider, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.SandboxID == "" {
		return nil, nil
	}
	return sess, nil
}

// ClearSession blanks the persisted handle. The row stays; only the ID goes.
func (s *Store) ClearSession() error {
	_, err := s.db.Exec(
		`UPDATE sandbox_session SET sandbox_id = '', updated_at = ? WHERE id = 1`,
		time.Now().UTC(),
	)
	return err
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveSnapshot stores a new snapshot and returns its generated ID.
func (s *Store) SaveSnapshot(files map[string]string, projectType string) (string, error) {
	encoded, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot files: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO snapshots (id, project_type, files, created_at)
		 VALUES (?, ?, ?, ?)`,
		id, projectType, string(encoded), time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LatestSnapshot returns the most recently created snapshot, or ErrNoSnapshot
// when none exists.
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, project_type, files, created_at
		 FROM snapshots ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	return scanSnapshot(row)
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(id string) (*Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, project_type, files, created_at
		 FROM snapshots WHERE id = ?`, id,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, ErrNoSnapshot) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNoSnapshot)
	}
	return snap, err
}

// ListSnapshots returns snapshot metadata (no file payloads), newest first.
func (s *Store) ListSnapshots() ([]*Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, project_type, created_at
		 FROM snapshots ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap := &Snapshot{}
		if err := rows.Scan(&snap.ID, &snap.ProjectType, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scannable) (*Snapshot, error) {
	snap := &Snapshot{}
	var encoded string
	err := row.Scan(&snap.ID, &snap.ProjectType, &encoded, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(encoded), &snap.Files); err != nil {
		return nil, fmt.Errorf("decoding snapshot files: %w", err)
	}
	return snap, nil
}
