// ABOUTME: Store interface and shared types for audit and approval persistence.
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/perchworks/perch-gateway/internal/envelope"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// AuditEntry records one policy decision: which tool, a digest of its
// parameters, the verdict, and when. Every mutation attempt produces
// exactly one entry, allowed or denied.
type AuditEntry struct {
	ID           string            // UUID v4
	ToolName     string            // acting tool
	ParamsDigest string            // fingerprint of canonicalized parameters
	Decision     envelope.Decision // gateway verdict
	Reason       string            // human-readable rationale, may be empty
	Timestamp    time.Time         // when the decision was made
	Detail       map[string]any    // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time         // entries after this time
	ToolName *string            // filter by tool
	Decision *envelope.Decision // filter by verdict
	Limit    int                // max results (default 100, max 1000)
}

// ApprovalStatus is the lifecycle state of a queued mutation.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is a mutation parked for operator review. The gateway
// only enqueues; resolution happens out of band.
type ApprovalRequest struct {
	ID           string         // UUID v4, echoed to the caller as queue id
	ToolName     string         // the mutation awaiting approval
	ArgsJSON     string         // raw tool arguments
	ParamsDigest string         // fingerprint of canonicalized parameters
	Status       ApprovalStatus // lifecycle state
	RequestedAt  time.Time
	ExpiresAt    time.Time
	DecidedAt    *time.Time
	DecidedBy    string
}

// ApprovalFilter specifies filtering options for listing approvals.
type ApprovalFilter struct {
	Status   *ApprovalStatus
	ToolName *string
	Limit    int
}

// Store is the persistence surface the gateway consumes.
type Store interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)

	CreateApproval(ctx context.Context, r *ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	ListApprovals(ctx context.Context, f ApprovalFilter) ([]*ApprovalRequest, error)
	DecideApproval(ctx context.Context, id string, status ApprovalStatus, decidedBy string) error
	ExpireStaleApprovals(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
