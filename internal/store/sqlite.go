// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides audit/approval persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/perchworks/perch-gateway/internal/envelope"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			params_digest TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_log(tool_name);

		CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			args_json TEXT NOT NULL,
			params_digest TEXT NOT NULL,
			status TEXT NOT NULL,
			requested_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			decided_at TEXT,
			decided_by TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// AppendAudit appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, tool_name, params_digest, decision, reason, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ToolName,
		e.ParamsDigest,
		string(e.Decision),
		e.Reason,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"tool", e.ToolName,
		"decision", e.Decision,
	)
	return nil
}

// ListAudit returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	var conds []string
	var args []any

	if f.Since != nil {
		conds = append(conds, "ts > ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.ToolName != nil {
		conds = append(conds, "tool_name = ?")
		args = append(args, *f.ToolName)
	}
	if f.Decision != nil {
		conds = append(conds, "decision = ?")
		args = append(args, string(*f.Decision))
	}

	query := "SELECT audit_id, tool_name, params_digest, decision, reason, ts, detail_json FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var decision, ts string
		var detailJSON sql.NullString

		if err := rows.Scan(&e.ID, &e.ToolName, &e.ParamsDigest, &decision, &e.Reason, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Decision = envelope.Decision(decision)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", ts, err)
		}
		if detailJSON.Valid && detailJSON.String != "" {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CreateApproval persists a queued mutation. Generates ID and RequestedAt
// if not set.
func (s *SQLiteStore) CreateApproval(ctx context.Context, r *ApprovalRequest) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = ApprovalPending
	}

	query := `
		INSERT INTO approvals (approval_id, tool_name, args_json, params_digest, status, requested_at, expires_at, decided_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ToolName,
		r.ArgsJSON,
		r.ParamsDigest,
		string(r.Status),
		r.RequestedAt.UTC().Format(time.RFC3339Nano),
		r.ExpiresAt.UTC().Format(time.RFC3339Nano),
		r.DecidedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting approval: %w", err)
	}

	s.logger.Debug("queued approval", "id", r.ID, "tool", r.ToolName)
	return nil
}

// GetApproval retrieves an approval request by ID.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `
		SELECT approval_id, tool_name, args_json, params_digest, status, requested_at, expires_at, decided_at, decided_by
		FROM approvals WHERE approval_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	r, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying approval: %w", err)
	}
	return r, nil
}

// ListApprovals returns approvals matching the filter, newest first.
func (s *SQLiteStore) ListApprovals(ctx context.Context, f ApprovalFilter) ([]*ApprovalRequest, error) {
	var conds []string
	var args []any

	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.ToolName != nil {
		conds = append(conds, "tool_name = ?")
		args = append(args, *f.ToolName)
	}

	query := `SELECT approval_id, tool_name, args_json, params_digest, status, requested_at, expires_at, decided_at, decided_by FROM approvals`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY requested_at DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying approvals: %w", err)
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning approval row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecideApproval resolves a pending request. Only pending requests can be
// decided; anything else returns ErrNotFound so double-decides are loud.
func (s *SQLiteStore) DecideApproval(ctx context.Context, id string, status ApprovalStatus, decidedBy string) error {
	if status != ApprovalApproved && status != ApprovalRejected {
		return fmt.Errorf("invalid decision status %q", status)
	}

	query := `
		UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?
		WHERE approval_id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(status),
		time.Now().UTC().Format(time.RFC3339Nano),
		decidedBy,
		id,
		string(ApprovalPending),
	)
	if err != nil {
		return fmt.Errorf("updating approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking approval update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStaleApprovals marks pending requests past their expiry as expired
// and returns how many were affected.
func (s *SQLiteStore) ExpireStaleApprovals(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE approvals SET status = ?
		WHERE status = ? AND expires_at < ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(ApprovalExpired),
		string(ApprovalPending),
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking expiry update: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanApproval reads one approval row through the given scan function.
func scanApproval(scan func(dest ...any) error) (*ApprovalRequest, error) {
	var r ApprovalRequest
	var status, requestedAt, expiresAt string
	var decidedAt sql.NullString

	if err := scan(&r.ID, &r.ToolName, &r.ArgsJSON, &r.ParamsDigest, &status, &requestedAt, &expiresAt, &decidedAt, &r.DecidedBy); err != nil {
		return nil, err
	}

	r.Status = ApprovalStatus(status)

	var err error
	if r.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAt); err != nil {
		return nil, fmt.Errorf("parsing requested_at %q: %w", requestedAt, err)
	}
	if r.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at %q: %w", expiresAt, err)
	}
	if decidedAt.Valid && decidedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing decided_at %q: %w", decidedAt.String, err)
		}
		r.DecidedAt = &t
	}
	return &r, nil
}
