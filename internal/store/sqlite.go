// ABOUTME: SQLite audit store using modernc.org/sqlite with automatic schema creation.
// ABOUTME: The gateway writes terminal states here; the core never touches the store.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists the audit trail of commands, sessions, and transfers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the store at the given path (":memory:" for tests). Parent
// directories and the schema are created as needed.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers alongside the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_audit (
			command_id   TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL,
			computer_id  TEXT NOT NULL,
			command_type TEXT NOT NULL,
			status       TEXT NOT NULL,
			response     TEXT,
			error        TEXT,
			resolved_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_audit_org
			ON command_audit(org_id, resolved_at);

		CREATE TABLE IF NOT EXISTS session_audit (
			session_id   TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL,
			computer_id  TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			mode         TEXT,
			final_state  TEXT NOT NULL,
			reason       TEXT,
			started_at   DATETIME NOT NULL,
			ended_at     DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_audit_org
			ON session_audit(org_id, ended_at);

		CREATE TABLE IF NOT EXISTS transfer_audit (
			transfer_id       TEXT PRIMARY KEY,
			org_id            TEXT NOT NULL,
			computer_id       TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			direction         TEXT NOT NULL,
			remote_path       TEXT NOT NULL,
			final_state       TEXT NOT NULL,
			reason            TEXT,
			bytes_transferred INTEGER NOT NULL,
			started_at        DATETIME NOT NULL,
			ended_at          DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transfer_audit_org
			ON transfer_audit(org_id, ended_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommandAudit is the terminal record of one dispatched command.
type CommandAudit struct {
	CommandID   string
	OrgID       string
	ComputerID  string
	CommandType string
	Status      string
	Response    string
	Error       string
	ResolvedAt  time.Time
}

// RecordCommand appends a command's terminal state.
func (s *Store) RecordCommand(ctx context.Context, a CommandAudit) error {
	if a.ResolvedAt.IsZero() {
		a.ResolvedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO command_audit
			(command_id, org_id, computer_id, command_type, status, response, error, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CommandID, a.OrgID, a.ComputerID, a.CommandType, a.Status,
		a.Response, a.Error, a.ResolvedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit: %w", err)
	}
	return nil
}

// SessionAudit is the terminal record of a remote-control or terminal session.
type SessionAudit struct {
	SessionID  string
	OrgID      string
	ComputerID string
	UserID     string
	Kind       string // "remote_control" or "terminal"
	Mode       string
	FinalState string
	Reason     string
	StartedAt  time.Time
	EndedAt    time.Time
}

// RecordSession appends a session's terminal state.
func (s *Store) RecordSession(ctx context.Context, a SessionAudit) error {
	if a.EndedAt.IsZero() {
		a.EndedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session_audit
			(session_id, org_id, computer_id, user_id, kind, mode, final_state, reason, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.OrgID, a.ComputerID, a.UserID, a.Kind, a.Mode,
		a.FinalState, a.Reason,
		a.StartedAt.UTC().Format(time.RFC3339),
		a.EndedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session audit: %w", err)
	}
	return nil
}

// TransferAudit is the terminal record of a file transfer.
type TransferAudit struct {
	TransferID       string
	OrgID            string
	ComputerID       string
	UserID           string
	Direction        string
	RemotePath       string
	FinalState       string
	Reason           string
	BytesTransferred int64
	StartedAt        time.Time
	EndedAt          time.Time
}

// RecordTransfer appends a transfer's terminal state.
func (s *Store) RecordTransfer(ctx context.Context, a TransferAudit) error {
	if a.EndedAt.IsZero() {
		a.EndedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transfer_audit
			(transfer_id, org_id, computer_id, user_id, direction, remote_path, final_state, reason, bytes_transferred, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TransferID, a.OrgID, a.ComputerID, a.UserID, a.Direction,
		a.RemotePath, a.FinalState, a.Reason, a.BytesTransferred,
		a.StartedAt.UTC().Format(time.RFC3339),
		a.EndedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transfer audit: %w", err)
	}
	return nil
}

// GetCommand loads one command audit row by id.
func (s *Store) GetCommand(ctx context.Context, commandID string) (*CommandAudit, error) {
	var a CommandAudit
	var resolvedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT command_id, org_id, computer_id, command_type, status, response, error, resolved_at
		FROM command_audit WHERE command_id = ?`, commandID).Scan(
		&a.CommandID, &a.OrgID, &a.ComputerID, &a.CommandType,
		&a.Status, &a.Response, &a.Error, &resolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("loading command audit: %w", err)
	}
	a.ResolvedAt, _ = time.Parse(time.RFC3339, resolvedAt)
	return &a, nil
}

// ListSessions returns an org's session audit rows, newest first.
func (s *Store) ListSessions(ctx context.Context, orgID string, limit int) ([]SessionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, org_id, computer_id, user_id, kind, mode, final_state, reason, started_at, ended_at
		FROM session_audit WHERE org_id = ?
		ORDER BY ended_at DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing session audit: %w", err)
	}
	defer rows.Close()

	var out []SessionAudit
	for rows.Next() {
		var a SessionAudit
		var started, ended string
		if err := rows.Scan(&a.SessionID, &a.OrgID, &a.ComputerID, &a.UserID,
			&a.Kind, &a.Mode, &a.FinalState, &a.Reason, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning session audit: %w", err)
		}
		a.StartedAt, _ = time.Parse(time.RFC3339, started)
		a.EndedAt, _ = time.Parse(time.RFC3339, ended)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountCommands returns the number of command audit rows for an org.
func (s *Store) CountCommands(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM command_audit WHERE org_id = ?`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting command audit: %w", err)
	}
	return n, nil
}
