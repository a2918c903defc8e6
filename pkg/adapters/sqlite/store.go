// Package sqlite keeps session snapshots in a single SQLite database file,
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aretw0/tickvm/pkg/domain"
)

// Store implements ports.SnapshotStore on SQLite. Safe for concurrent use;
// the pool is limited to one connection so writers never contend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Info describes a stored snapshot without loading it.
type Info struct {
	SessionID string
	Size      int
	Digest    string
	UpdatedAt time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		session_id TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		digest TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		body BLOB NOT NULL
	);`)
	return err
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Save upserts the session's snapshot.
func (s *Store) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if snapshot == nil {
		snapshot = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO snapshots (session_id, size, digest, updated_at, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			size = excluded.size,
			digest = excluded.digest,
			updated_at = excluded.updated_at,
			body = excluded.body`,
		sessionID, len(snapshot), digest(snapshot), s.now().UTC().Format(time.RFC3339Nano), snapshot)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the session's snapshot. The stored digest is verified.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var body []byte
	var sum string
	err := s.db.QueryRowContext(ctx, `SELECT body, digest FROM snapshots WHERE session_id = ?`, sessionID).Scan(&body, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	if digest(body) != sum {
		return nil, fmt.Errorf("load snapshot %s: digest mismatch", sessionID)
	}
	return body, nil
}

// Delete removes the session's snapshot.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}

// List returns every session ID, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM snapshots ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stat returns metadata of the session's snapshot.
func (s *Store) Stat(ctx context.Context, sessionID string) (Info, error) {
	info := Info{SessionID: sessionID}
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT size, digest, updated_at FROM snapshots WHERE session_id = ?`, sessionID).
		Scan(&info.Size, &info.Digest, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return info, domain.ErrSessionNotFound
	}
	if err != nil {
		return info, fmt.Errorf("stat snapshot %s: %w", sessionID, err)
	}
	info.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return info, fmt.Errorf("stat snapshot %s: %w", sessionID, err)
	}
	return info, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
