// Package history keeps generated sessions in a local SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultLimit matches the number of sessions the UI keeps in view.
const DefaultLimit = 10

var ErrNotFound = errors.New("history entry not found")

// Entry is one generated session.
type Entry struct {
	ID             string
	Mode           string // "voice" or "text"
	Transcript     string
	EnhancedPrompt string
	Service        string
	ImagePath      string // saved image on disk, if any
	Duration       time.Duration
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	mode            TEXT NOT NULL,
	transcript      TEXT NOT NULL,
	enhanced_prompt TEXT NOT NULL DEFAULT '',
	service         TEXT NOT NULL DEFAULT '',
	image_path      TEXT NOT NULL DEFAULT '',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	created_at      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_created ON sessions(created_at);
`

// DefaultPath returns the database path under the user's data directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "echosketch", "history.sqlite")
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores e. An entry with an existing ID replaces the old one. A zero
// CreatedAt is set to now; an empty ID is derived from it.
func (s *Store) Add(e Entry) (Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("local_%d", e.CreatedAt.UnixNano())
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(id, mode, transcript, enhanced_prompt, service, image_path, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Mode, e.Transcript, e.EnhancedPrompt, e.Service, e.ImagePath,
		e.Duration.Milliseconds(), unixFromTime(e.CreatedAt))
	if err != nil {
		return Entry{}, fmt.Errorf("insert session: %w", err)
	}
	return e, nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.query(`
		SELECT id, mode, transcript, enhanced_prompt, service, image_path, duration_ms, created_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
}

// Search matches query against transcripts and enhanced prompts,
// case-insensitively, newest first.
func (s *Store) Search(query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.query(`
		SELECT id, mode, transcript, enhanced_prompt, service, image_path, duration_ms, created_at
		FROM sessions
		WHERE transcript LIKE ? ESCAPE '\' OR enhanced_prompt LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?
	`, pattern, pattern, limit)
}

func (s *Store) Get(id string) (Entry, error) {
	entries, err := s.query(`
		SELECT id, mode, transcript, enhanced_prompt, service, image_path, duration_ms, created_at
		FROM sessions
		WHERE id = ?
	`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entries[0], nil
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Clear deletes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durMs int64
		var createdAt float64
		if err := rows.Scan(&e.ID, &e.Mode, &e.Transcript, &e.EnhancedPrompt,
			&e.Service, &e.ImagePath, &durMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.CreatedAt = timeFromUnix(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
