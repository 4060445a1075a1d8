// Package statedb persists derived session state in SQLite. The database is
// shared by every client process pointed at the same data directory; WAL
// mode plus a busy timeout make concurrent readers and writers safe without
// any cross-process coordination beyond last-write-wins per row.
package statedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// ErrNotFound is returned when no state row exists for a session.
var ErrNotFound = errors.New("statedb: not found")

// DB wraps the SQLite database holding session state rows.
// Thread-safe for concurrent use from multiple goroutines within one process.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath with WAL mode and a busy
// timeout, then runs migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints WAL and closes the database.
func (s *DB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// migrate creates tables if they don't exist.
func (s *DB) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS session_states (
			session_id               TEXT PRIMARY KEY,
			worktree_id              TEXT NOT NULL DEFAULT '',
			worktree_path            TEXT NOT NULL DEFAULT '',
			last_run_status          TEXT NOT NULL DEFAULT 'idle',
			waiting_for_input        INTEGER NOT NULL DEFAULT 0,
			waiting_for_input_type   TEXT NOT NULL DEFAULT '',
			is_reviewing             INTEGER NOT NULL DEFAULT 0,
			pending_plan_message_id  TEXT NOT NULL DEFAULT '',
			plan_file_path           TEXT NOT NULL DEFAULT '',
			approved_plan_ids        TEXT NOT NULL DEFAULT '[]',
			last_opened_at           INTEGER,
			updated_at               INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create session_states: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// UpsertState writes a session's derived state. Last write wins per row.
func (s *DB) UpsertState(ctx context.Context, st *types.SessionState) error {
	approved, err := json.Marshal(st.ApprovedPlanIDs)
	if err != nil {
		return fmt.Errorf("statedb: marshal approved ids: %w", err)
	}
	if st.ApprovedPlanIDs == nil {
		approved = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_states (
			session_id, worktree_id, worktree_path, last_run_status,
			waiting_for_input, waiting_for_input_type, is_reviewing,
			pending_plan_message_id, plan_file_path, approved_plan_ids, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			worktree_id             = excluded.worktree_id,
			worktree_path           = excluded.worktree_path,
			last_run_status         = excluded.last_run_status,
			waiting_for_input       = excluded.waiting_for_input,
			waiting_for_input_type  = excluded.waiting_for_input_type,
			is_reviewing            = excluded.is_reviewing,
			pending_plan_message_id = excluded.pending_plan_message_id,
			plan_file_path          = excluded.plan_file_path,
			approved_plan_ids       = excluded.approved_plan_ids,
			updated_at              = excluded.updated_at
	`,
		st.SessionID, st.WorktreeID, st.WorktreePath, string(st.LastRunStatus),
		boolToInt(st.WaitingForInput), string(st.WaitingForInputType), boolToInt(st.IsReviewing),
		st.PendingPlanMessageID, st.PlanFilePath, string(approved), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("statedb: upsert state: %w", err)
	}
	return nil
}

// GetState reads a session's derived state.
func (s *DB) GetState(ctx context.Context, sessionID string) (*types.SessionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, worktree_id, worktree_path, last_run_status,
		       waiting_for_input, waiting_for_input_type, is_reviewing,
		       pending_plan_message_id, plan_file_path, approved_plan_ids
		FROM session_states WHERE session_id = ?
	`, sessionID)

	return scanState(row)
}

// ListStates returns the derived state of every known session.
func (s *DB) ListStates(ctx context.Context) ([]*types.SessionState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, worktree_id, worktree_path, last_run_status,
		       waiting_for_input, waiting_for_input_type, is_reviewing,
		       pending_plan_message_id, plan_file_path, approved_plan_ids
		FROM session_states ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: list states: %w", err)
	}
	defer rows.Close()

	var states []*types.SessionState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// SetLastOpened stamps a session as opened now, so it is not shown as
// unread by other clients.
func (s *DB) SetLastOpened(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_states SET last_opened_at = ?, updated_at = ? WHERE session_id = ?
	`, time.Now().UnixMilli(), time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("statedb: set last opened: %w", err)
	}
	return nil
}

// GetLastOpened returns the last-opened timestamp, or nil if never opened.
func (s *DB) GetLastOpened(ctx context.Context, sessionID string) (*int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_opened_at FROM session_states WHERE session_id = ?`, sessionID).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get last opened: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Int64, nil
}

// MarkPlanApproved records a plan message as approved and clears the pending
// plan pointer in the same statement, so a crash between the two cannot
// leave an approved plan still marked pending.
func (s *DB) MarkPlanApproved(ctx context.Context, sessionID, messageID string) error {
	st, err := s.GetState(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, id := range st.ApprovedPlanIDs {
		if id == messageID {
			return nil // idempotent
		}
	}
	st.ApprovedPlanIDs = append(st.ApprovedPlanIDs, messageID)
	approved, err := json.Marshal(st.ApprovedPlanIDs)
	if err != nil {
		return fmt.Errorf("statedb: marshal approved ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE session_states
		SET approved_plan_ids = ?, pending_plan_message_id = '', updated_at = ?
		WHERE session_id = ?
	`, string(approved), time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("statedb: mark plan approved: %w", err)
	}
	return nil
}

// DeleteState removes a session's state row.
func (s *DB) DeleteState(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_states WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("statedb: delete state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*types.SessionState, error) {
	var st types.SessionState
	var waiting, reviewing int
	var waitingType, status, approved string

	err := row.Scan(
		&st.SessionID, &st.WorktreeID, &st.WorktreePath, &status,
		&waiting, &waitingType, &reviewing,
		&st.PendingPlanMessageID, &st.PlanFilePath, &approved,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: scan state: %w", err)
	}

	st.LastRunStatus = types.RunStatus(status)
	st.WaitingForInput = waiting != 0
	st.WaitingForInputType = types.WaitingType(waitingType)
	st.IsReviewing = reviewing != 0
	if err := json.Unmarshal([]byte(approved), &st.ApprovedPlanIDs); err != nil {
		return nil, fmt.Errorf("statedb: unmarshal approved ids: %w", err)
	}
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
