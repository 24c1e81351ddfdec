// Package permission implements the bridge's permission-policy engine:
// an in-memory cache of per-path decisions backed by a SQLite store, plus
// an append-only audit log of every decision made. Decisions are scoped to
// a canonical path (as produced by internal/sandbox) so a policy recorded
// for a symlinked path and its target always collapse to one entry.
package permission

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// Decision is the persisted outcome of a permission prompt.
type Decision string

const (
	// DecisionAllowOnce grants the single in-flight request but is never
	// cached or persisted.
	DecisionAllowOnce Decision = "allow_once"
	// DecisionRejectOnce denies the single in-flight request without being
	// cached or persisted.
	DecisionRejectOnce Decision = "reject_once"
	// DecisionAllowAlways grants this and all future requests for the same
	// canonical path, and is persisted across restarts.
	DecisionAllowAlways Decision = "allow_always"
	// DecisionRejectAlways denies this and all future requests for the same
	// canonical path, and is persisted across restarts.
	DecisionRejectAlways Decision = "reject_always"
)

// Sticky reports whether d should be cached and persisted.
func (d Decision) Sticky() bool {
	return d == DecisionAllowAlways || d == DecisionRejectAlways
}

// Allowed reports whether d permits the operation to proceed.
func (d Decision) Allowed() bool {
	return d == DecisionAllowOnce || d == DecisionAllowAlways
}

// Store is the permission policy cache and its SQLite-backed persistence.
// Every method is safe for concurrent use; path-keyed operations serialize
// per path via keyedMutex so a cache-miss prompt for one path never blocks
// a decision for an unrelated path.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]Decision

	keyed keyedMutex
}

// Open creates or opens a SQLite-backed policy store at dbPath, loading any
// previously persisted sticky decisions into the in-memory cache.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open policy database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, cache: make(map[string]Decision)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.loadCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load policy cache: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying permission store migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS policies (
			canonical_path TEXT PRIMARY KEY,
			decision TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path_hash TEXT NOT NULL,
			operation TEXT NOT NULL,
			decision TEXT NOT NULL,
			cached INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at);
	`)
	return err
}

// migrateV2 adds the fields spec.md's audit entry requires that v1's
// schema predates: sessionId, phase (prompt/outcome), and the selected
// option id.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
		ALTER TABLE audit_entries ADD COLUMN session_id TEXT NOT NULL DEFAULT '';
		ALTER TABLE audit_entries ADD COLUMN phase TEXT NOT NULL DEFAULT 'outcome';
		ALTER TABLE audit_entries ADD COLUMN option_id TEXT NOT NULL DEFAULT '';
	`)
	return err
}

func (s *Store) loadCache() error {
	rows, err := s.db.Query("SELECT canonical_path, decision FROM policies")
	if err != nil {
		return fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var path, decision string
		if err := rows.Scan(&path, &decision); err != nil {
			return fmt.Errorf("scan policy row: %w", err)
		}
		s.cache[path] = Decision(decision)
	}
	return rows.Err()
}

// Lookup returns the cached sticky decision for a canonical path, if any.
func (s *Store) Lookup(canonicalPath string) (Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.cache[canonicalPath]
	return d, ok
}

// Record stores a decision for a canonical path. Only sticky decisions
// (allow_always/reject_always) are cached and persisted; allow_once and
// reject_once pass through without being written anywhere.
func (s *Store) Record(ctx context.Context, canonicalPath string, d Decision) error {
	if !d.Sticky() {
		return nil
	}

	s.mu.Lock()
	s.cache[canonicalPath] = d
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (canonical_path, decision, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(canonical_path) DO UPDATE SET decision = excluded.decision, updated_at = excluded.updated_at`,
		canonicalPath, string(d),
	)
	if err != nil {
		return fmt.Errorf("persist policy decision: %w", err)
	}
	return nil
}

// WithPathLock serializes lookup-then-prompt-then-record sequences for the
// same canonical path, so two concurrent requests for the same path never
// both fall through to a controller prompt.
func (s *Store) WithPathLock(path string, fn func() error) error {
	unlock := s.keyed.Lock(path)
	defer unlock()
	return fn()
}
