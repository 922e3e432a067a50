// Package cache memoizes provider lookups in a local SQLite database,
// so re-runs over overlapping bibliographies stop re-spending request
// quota on titles the providers have already answered.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome classifies a memoized lookup.
type Outcome string

const (
	// Hit stores an accepted candidate with its bibliographic text.
	Hit Outcome = "hit"
	// NotFound stores a provider's definitive zero-candidate answer.
	NotFound Outcome = "not-found"
	// LowScore stores a candidate rejected by the similarity gate.
	LowScore Outcome = "low-score"
)

// Entry is one memoized lookup result. Title and Score describe the
// candidate for Hit and LowScore outcomes; BibTeX is set only for
// hits.
type Entry struct {
	Outcome  Outcome
	Title    string
	BibTeX   string
	Score    float64
	CachedAt time.Time
}

// DB wraps the lookup cache database.
type DB struct {
	db *sql.DB
}

// DefaultPath returns the cache location under XDG_CACHE_HOME,
// defaulting to ~/.cache/bibfix/lookups.db.
func DefaultPath() string {
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheHome = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheHome, "bibfix", "lookups.db")
}

// Open opens or creates the lookup cache at path, creating parent
// directories as needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the cache database.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS lookups (
			provider TEXT NOT NULL,
			title TEXT NOT NULL,
			outcome TEXT NOT NULL,
			hit_title TEXT,
			bibtex TEXT,
			score REAL,
			cached_at INTEGER NOT NULL,
			PRIMARY KEY (provider, title)
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Get retrieves the memoized result for a provider/title pair.
// Returns nil (not an error) when nothing is stored.
func (d *DB) Get(provider, title string) (*Entry, error) {
	var (
		outcome       string
		hitTitle, bib sql.NullString
		score         sql.NullFloat64
		cachedAt      int64
	)
	err := d.db.QueryRow(`
		SELECT outcome, hit_title, bibtex, score, cached_at
		FROM lookups
		WHERE provider = ? AND title = ?
	`, provider, title).Scan(&outcome, &hitTitle, &bib, &score, &cachedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	return &Entry{
		Outcome:  Outcome(outcome),
		Title:    hitTitle.String,
		BibTeX:   bib.String,
		Score:    score.Float64,
		CachedAt: time.Unix(cachedAt, 0),
	}, nil
}

// Put stores a lookup result, replacing any previous entry for the
// same provider/title pair. A zero CachedAt means now.
func (d *DB) Put(provider, title string, e Entry) error {
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO lookups (provider, title, outcome, hit_title, bibtex, score, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, provider, title, string(e.Outcome),
		nullableString(e.Title), nullableString(e.BibTeX), e.Score, cachedAt.Unix())
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// nullableString converts a string to sql.NullString, treating empty as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
