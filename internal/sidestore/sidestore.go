// Package sidestore persists the secondary side-tables the Observer
// populates opportunistically: incidents, epics and patterns, keyed by
// their external identifiers. Insights cross-reference these records
// through their context.
package sidestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default relative path for the SQLite DB.
const DefaultDBPath = ".heimgeist/side.db"

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Incident is one incident record, keyed by the external incident id.
type Incident struct {
	ID         string
	Title      string
	Status     string
	Severity   string
	DetectedAt string
	UpdatedAt  string
}

// Epic is one delivery epic record, keyed by the external epic id.
type Epic struct {
	ID        string
	Title     string
	Status    string
	UpdatedAt string
}

// Pattern is one observed pattern record. Kind is "good" or "bad";
// Occurrences counts upserts.
type Pattern struct {
	ID          string
	Name        string
	Kind        string
	Occurrences int
	LastSeen    string
}

// Store wraps the SQLite side-table database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite DB at path and runs migrations.
// Creates the parent directory if it does not exist.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sidestore: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sidestore: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sidestore: ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'open',
	severity    TEXT NOT NULL DEFAULT '',
	detected_at TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS epics (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS patterns (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT '',
	occurrences INTEGER NOT NULL DEFAULT 0,
	last_seen   TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sidestore: migrate: %w", err)
	}
	return nil
}

// UpsertIncident inserts or refreshes an incident record.
func (s *Store) UpsertIncident(inc Incident) error {
	now := nowUTC()
	if inc.DetectedAt == "" {
		inc.DetectedAt = now
	}
	_, err := s.db.Exec(`
INSERT INTO incidents (id, title, status, severity, detected_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	status = excluded.status,
	severity = excluded.severity,
	updated_at = excluded.updated_at`,
		inc.ID, inc.Title, inc.Status, inc.Severity, inc.DetectedAt, now)
	if err != nil {
		return fmt.Errorf("sidestore: upsert incident %s: %w", inc.ID, err)
	}
	return nil
}

// GetIncident returns an incident by id, or nil if absent.
func (s *Store) GetIncident(id string) (*Incident, error) {
	row := s.db.QueryRow(`SELECT id, title, status, severity, detected_at, updated_at FROM incidents WHERE id = ?`, id)
	var inc Incident
	err := row.Scan(&inc.ID, &inc.Title, &inc.Status, &inc.Severity, &inc.DetectedAt, &inc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sidestore: get incident %s: %w", id, err)
	}
	return &inc, nil
}

// ListIncidents returns all incidents, most recently updated first.
func (s *Store) ListIncidents() ([]Incident, error) {
	rows, err := s.db.Query(`SELECT id, title, status, severity, detected_at, updated_at FROM incidents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sidestore: list incidents: %w", err)
	}
	defer rows.Close()
	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.Title, &inc.Status, &inc.Severity, &inc.DetectedAt, &inc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sidestore: scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// UpsertEpic inserts or refreshes an epic record.
func (s *Store) UpsertEpic(e Epic) error {
	_, err := s.db.Exec(`
INSERT INTO epics (id, title, status, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	status = excluded.status,
	updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Status, nowUTC())
	if err != nil {
		return fmt.Errorf("sidestore: upsert epic %s: %w", e.ID, err)
	}
	return nil
}

// ListEpics returns all epics, most recently updated first.
func (s *Store) ListEpics() ([]Epic, error) {
	rows, err := s.db.Query(`SELECT id, title, status, updated_at FROM epics ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sidestore: list epics: %w", err)
	}
	defer rows.Close()
	var out []Epic
	for rows.Next() {
		var e Epic
		if err := rows.Scan(&e.ID, &e.Title, &e.Status, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sidestore: scan epic: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertPattern inserts a pattern record or increments its occurrence count.
func (s *Store) UpsertPattern(p Pattern) error {
	_, err := s.db.Exec(`
INSERT INTO patterns (id, name, kind, occurrences, last_seen)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	kind = excluded.kind,
	occurrences = patterns.occurrences + 1,
	last_seen = excluded.last_seen`,
		p.ID, p.Name, p.Kind, nowUTC())
	if err != nil {
		return fmt.Errorf("sidestore: upsert pattern %s: %w", p.ID, err)
	}
	return nil
}

// GetPattern returns a pattern by id, or nil if absent.
func (s *Store) GetPattern(id string) (*Pattern, error) {
	row := s.db.QueryRow(`SELECT id, name, kind, occurrences, last_seen FROM patterns WHERE id = ?`, id)
	var p Pattern
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.Occurrences, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sidestore: get pattern %s: %w", id, err)
	}
	return &p, nil
}

// ListPatterns returns all patterns, most frequent first.
func (s *Store) ListPatterns() ([]Pattern, error) {
	rows, err := s.db.Query(`SELECT id, name, kind, occurrences, last_seen FROM patterns ORDER BY occurrences DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("sidestore: list patterns: %w", err)
	}
	defer rows.Close()
	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Occurrences, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("sidestore: scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
