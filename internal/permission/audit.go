package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Phase distinguishes the two audit entries a mediated write produces: the
// moment permission is asked for, and the moment it is resolved.
type Phase string

const (
	// PhasePrompt is recorded the instant a permission request is issued,
	// before any reply is known. A cache hit issues no request and records
	// no prompt entry.
	PhasePrompt Phase = "prompt"
	// PhaseOutcome is recorded once a decision is known, cached or not.
	PhaseOutcome Phase = "outcome"
)

// AuditEntry is one row of the append-only decision log. Paths are never
// stored in the clear — only a SHA-256 hash, so the audit log can be shared
// or inspected without leaking project layout.
type AuditEntry struct {
	SessionID string
	Tool      string
	PathHash  string
	Phase     Phase
	Decision  Decision
	OptionID  string
	Cached    bool
	CreatedAt string
}

// HashPath returns the hex-encoded SHA-256 digest of a canonical path, the
// only form of a path this package ever persists in the audit log.
func HashPath(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])
}

// Audit appends a record of a permission-engine event. tool is the
// triggering method name (e.g. "fs/write_text_file"); cached reports
// whether the decision was served from the cache without a controller
// round-trip. optionID is the selected option id and is empty for prompt
// entries or cache-served outcomes that never named one.
func (s *Store) Audit(ctx context.Context, sessionID, canonicalPath, tool string, phase Phase, d Decision, cached bool, optionID string) error {
	cachedInt := 0
	if cached {
		cachedInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (session_id, path_hash, operation, phase, decision, option_id, cached, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		sessionID, HashPath(canonicalPath), tool, string(phase), string(d), optionID, cachedInt,
	)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// AuditPrompt records that a permission decision is being sought for
// canonicalPath, before any outcome is known.
func (s *Store) AuditPrompt(ctx context.Context, sessionID, canonicalPath, tool string) error {
	return s.Audit(ctx, sessionID, canonicalPath, tool, PhasePrompt, "", false, "")
}

// AuditOutcome records the resolved decision for canonicalPath, whether it
// came from the cache or a fresh controller round-trip.
func (s *Store) AuditOutcome(ctx context.Context, sessionID, canonicalPath, tool string, d Decision, cached bool, optionID string) error {
	return s.Audit(ctx, sessionID, canonicalPath, tool, PhaseOutcome, d, cached, optionID)
}

// AuditLog returns the most recent audit entries, newest first, bounded by
// limit.
func (s *Store) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, path_hash, operation, phase, decision, option_id, cached, created_at
		 FROM audit_entries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var decision, phase string
		var cachedInt int
		if err := rows.Scan(&e.SessionID, &e.PathHash, &e.Tool, &phase, &decision, &e.OptionID, &cachedInt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Phase = Phase(phase)
		e.Decision = Decision(decision)
		e.Cached = cachedInt != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
