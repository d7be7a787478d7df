// Package dedup persists the birth times of signals already acted upon, so a
// crash-restart cannot re-enter on the same signal.
package dedup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is an append-only record of acted-on birth times backed by SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the database (and parent directory) if needed and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS acted_signals (
		birth_ms INTEGER PRIMARY KEY,
		acted_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Contains reports whether this birth time was already acted upon.
func (s *Store) Contains(birth time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM acted_signals WHERE birth_ms = ?", birth.UnixMilli(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query dedup: %w", err)
	}
	return true, nil
}

// Record marks a birth time as acted upon. Recording the same birth time
// twice is a no-op rather than an error.
func (s *Store) Record(birth time.Time, actedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO acted_signals (birth_ms, acted_at) VALUES (?, ?)",
		birth.UnixMilli(), actedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record dedup: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
