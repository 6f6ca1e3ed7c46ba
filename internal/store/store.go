// Package store provides the local SQLite attempt store.
//
// Security model:
//  1. File permissions: 0600 (owner read/write only)
//  2. Integrity: each warning record carries an HMAC
//  3. Append-only: warning records are never modified after insertion
//  4. Chain linking: each warning references the previous record's hash
//
// The attempt row is the local source of truth for the re-entry guard: an
// attempt marked submitted or terminated is closed on this device even if
// the exam service is unreachable.
package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"examd/internal/ledger"
)

// Store errors.
var (
	ErrAttemptNotFound = errors.New("store: attempt not found")
	ErrAttemptClosed   = errors.New("store: attempt already submitted or terminated")
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id          TEXT PRIMARY KEY,
    started_at          INTEGER NOT NULL,
    submitted           INTEGER NOT NULL DEFAULT 0,
    terminated          INTEGER NOT NULL DEFAULT 0,
    termination_reason  TEXT NOT NULL DEFAULT '',
    warning_count       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS warnings (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id      TEXT NOT NULL REFERENCES attempts(attempt_id),
    event_id        TEXT NOT NULL UNIQUE,
    kind            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    occurred_at_ns  INTEGER NOT NULL,
    count           INTEGER NOT NULL,
    previous_hash   BLOB NOT NULL,
    record_hash     BLOB NOT NULL UNIQUE,
    hmac            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_warnings_attempt ON warnings(attempt_id, id);
`

// AttemptRecord is one row of the attempts table.
type AttemptRecord struct {
	AttemptID         string
	StartedAt         time.Time
	Submitted         bool
	Terminated        bool
	TerminationReason string
	WarningCount      int
}

// Finished reports whether the attempt is closed on this device.
func (a *AttemptRecord) Finished() bool {
	return a.Submitted || a.Terminated
}

// WarningRecord is one row of the warning chain.
type WarningRecord struct {
	ID         int64
	AttemptID  string
	EventID    string
	Kind       ledger.Kind
	Severity   ledger.Severity
	Detail     string
	OccurredAt time.Time
	Count      int
}

// Store is the SQLite-backed attempt store.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	hmacKey []byte
}

// Open opens or creates the attempt database. The hmacKey keys the warning
// chain and must be at least 32 bytes.
func Open(path string, hmacKey []byte) (*Store, error) {
	if len(hmacKey) < 32 {
		return nil, errors.New("store: HMAC key must be at least 32 bytes")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set database permissions: %w", err)
	}

	return &Store{db: db, hmacKey: hmacKey}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureAttempt creates the attempt row if it does not exist and returns
// the current record either way.
func (s *Store) EnsureAttempt(attemptID string) (*AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO attempts (attempt_id, started_at) VALUES (?, ?)
		ON CONFLICT(attempt_id) DO NOTHING`,
		attemptID, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: ensure attempt: %w", err)
	}
	return s.attemptLocked(attemptID)
}

// Attempt returns the attempt record, or ErrAttemptNotFound.
func (s *Store) Attempt(attemptID string) (*AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptLocked(attemptID)
}

func (s *Store) attemptLocked(attemptID string) (*AttemptRecord, error) {
	var a AttemptRecord
	var startedNs int64
	err := s.db.QueryRow(`
		SELECT attempt_id, started_at, submitted, terminated, termination_reason, warning_count
		FROM attempts WHERE attempt_id = ?`, attemptID,
	).Scan(&a.AttemptID, &startedNs, &a.Submitted, &a.Terminated, &a.TerminationReason, &a.WarningCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("store: read attempt: %w", err)
	}
	a.StartedAt = time.Unix(0, startedNs)
	return &a, nil
}

// MarkSubmitted closes the attempt as submitted.
func (s *Store) MarkSubmitted(attemptID string) error {
	return s.closeAttempt(`UPDATE attempts SET submitted = 1 WHERE attempt_id = ?`, attemptID)
}

// MarkTerminated closes the attempt as terminated with the given reason.
func (s *Store) MarkTerminated(attemptID, reason string) error {
	return s.closeAttempt(
		`UPDATE attempts SET terminated = 1, termination_reason = ? WHERE attempt_id = ?`,
		reason, attemptID)
}

func (s *Store) closeAttempt(query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("store: close attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// AppendWarning appends an accepted warning to the attempt's chain.
func (s *Store) AppendWarning(attemptID string, e ledger.Event, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Chain tail for this attempt; zero hash for the first record.
	var prev [32]byte
	var prevBytes []byte
	err = tx.QueryRow(`
		SELECT record_hash FROM warnings WHERE attempt_id = ? ORDER BY id DESC LIMIT 1`,
		attemptID).Scan(&prevBytes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: read chain tail: %w", err)
	}
	copy(prev[:], prevBytes)

	recordHash := computeRecordHash(attemptID, e, count, prev[:])
	mac := s.computeRecordHMAC(attemptID, e, count, prev[:])

	_, err = tx.Exec(`
		INSERT INTO warnings (attempt_id, event_id, kind, severity, detail, occurred_at_ns, count, previous_hash, record_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attemptID, e.ID, string(e.Kind), e.Severity.String(), e.Detail,
		e.OccurredAt.UnixNano(), count, prev[:], recordHash[:], mac)
	if err != nil {
		return fmt.Errorf("store: insert warning: %w", err)
	}

	_, err = tx.Exec(`UPDATE attempts SET warning_count = ? WHERE attempt_id = ?`, count, attemptID)
	if err != nil {
		return fmt.Errorf("store: update warning count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Warnings returns the attempt's warning records in insertion order.
func (s *Store) Warnings(attemptID string) ([]WarningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, attempt_id, event_id, kind, severity, detail, occurred_at_ns, count
		FROM warnings WHERE attempt_id = ? ORDER BY id ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("store: query warnings: %w", err)
	}
	defer rows.Close()

	var records []WarningRecord
	for rows.Next() {
		var r WarningRecord
		var kind, severity string
		var occurredNs int64
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.EventID, &kind, &severity,
			&r.Detail, &occurredNs, &r.Count); err != nil {
			return nil, fmt.Errorf("store: scan warning: %w", err)
		}
		r.Kind = ledger.Kind(kind)
		r.Severity = ledger.ParseSeverity(severity)
		r.OccurredAt = time.Unix(0, occurredNs)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate warnings: %w", err)
	}
	return records, nil
}

// VerifyChain walks the attempt's warning chain and checks linkage, record
// hashes, and HMACs.
func (s *Store) VerifyChain(attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, event_id, kind, severity, detail, occurred_at_ns, count, previous_hash, record_hash, hmac
		FROM warnings WHERE attempt_id = ? ORDER BY id ASC`, attemptID)
	if err != nil {
		return fmt.Errorf("store: query warnings: %w", err)
	}
	defer rows.Close()

	var last [32]byte
	first := true
	for rows.Next() {
		var id, occurredNs int64
		var count int
		var eventID, kind, severity, detail string
		var prevBytes, hashBytes, macBytes []byte
		if err := rows.Scan(&id, &eventID, &kind, &severity, &detail,
			&occurredNs, &count, &prevBytes, &hashBytes, &macBytes); err != nil {
			return fmt.Errorf("store: scan warning %d: %w", id, err)
		}

		if !first && !hmac.Equal(prevBytes, last[:]) {
			return fmt.Errorf("store: chain break at warning %d", id)
		}

		e := ledger.Event{
			ID:         eventID,
			Kind:       ledger.Kind(kind),
			Severity:   ledger.ParseSeverity(severity),
			Detail:     detail,
			OccurredAt: time.Unix(0, occurredNs),
		}
		expectedHash := computeRecordHash(attemptID, e, count, prevBytes)
		if !hmac.Equal(hashBytes, expectedHash[:]) {
			return fmt.Errorf("store: warning %d hash mismatch", id)
		}
		expectedMAC := s.computeRecordHMAC(attemptID, e, count, prevBytes)
		if !hmac.Equal(macBytes, expectedMAC) {
			return fmt.Errorf("store: warning %d HMAC mismatch", id)
		}

		copy(last[:], hashBytes)
		first = false
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate warnings: %w", err)
	}
	return nil
}

// AttemptIDs returns every attempt id in the store.
func (s *Store) AttemptIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT attempt_id FROM attempts ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query attempts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func computeRecordHash(attemptID string, e ledger.Event, count int, previous []byte) [32]byte {
	h := sha256.New()
	writeRecord(h.Write, attemptID, e, count, previous)
	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

func (s *Store) computeRecordHMAC(attemptID string, e ledger.Event, count int, previous []byte) []byte {
	h := hmac.New(sha256.New, s.hmacKey)
	writeRecord(h.Write, attemptID, e, count, previous)
	return h.Sum(nil)
}

func writeRecord(write func([]byte) (int, error), attemptID string, e ledger.Event, count int, previous []byte) {
	write([]byte("examd-warning-v1"))
	write([]byte(attemptID))
	write([]byte(e.ID))
	write([]byte(e.Kind))
	write([]byte(e.Severity.String()))
	write([]byte(e.Detail))
	write(int64Bytes(e.OccurredAt.UnixNano()))
	write(int64Bytes(int64(count)))
	write(previous)
}

func int64Bytes(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}
