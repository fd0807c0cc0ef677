// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	audit     []*AuditEntry
	approvals map[string]*ApprovalRequest

	// FailAudit makes AppendAudit return an error, for exercising the
	// policy gateway's audit-failure path.
	FailAudit error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		approvals: make(map[string]*ApprovalRequest),
	}
}

// AppendAudit stores an audit entry.
func (m *MockStore) AppendAudit(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAudit != nil {
		return m.FailAudit
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	entry := *e
	m.audit = append(m.audit, &entry)
	return nil
}

// ListAudit returns matching entries, newest first.
func (m *MockStore) ListAudit(_ context.Context, f AuditFilter) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range m.audit {
		if f.Since != nil && !e.Timestamp.After(*f.Since) {
			continue
		}
		if f.ToolName != nil && e.ToolName != *f.ToolName {
			continue
		}
		if f.Decision != nil && e.Decision != *f.Decision {
			continue
		}
		entry := *e
		out = append(out, &entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	limit := normalizeLimit(f.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AuditCount returns the total number of audit entries recorded.
func (m *MockStore) AuditCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.audit)
}

// CreateApproval stores a queued mutation.
func (m *MockStore) CreateApproval(_ context.Context, r *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = ApprovalPending
	}

	req := *r
	m.approvals[req.ID] = &req
	return nil
}

// GetApproval retrieves an approval request by ID.
func (m *MockStore) GetApproval(_ context.Context, id string) (*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	req := *r
	return &req, nil
}

// ListApprovals returns approvals matching the filter, newest first.
func (m *MockStore) ListApprovals(_ context.Context, f ApprovalFilter) ([]*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ApprovalRequest
	for _, r := range m.approvals {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.ToolName != nil && r.ToolName != *f.ToolName {
			continue
		}
		req := *r
		out = append(out, &req)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})

	limit := normalizeLimit(f.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecideApproval resolves a pending request.
func (m *MockStore) DecideApproval(_ context.Context, id string, status ApprovalStatus, decidedBy string) error {
	if status != ApprovalApproved && status != ApprovalRejected {
		return fmt.Errorf("invalid decision status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.approvals[id]
	if !ok || r.Status != ApprovalPending {
		return ErrNotFound
	}

	now := time.Now().UTC()
	r.Status = status
	r.DecidedAt = &now
	r.DecidedBy = decidedBy
	return nil
}

// ExpireStaleApprovals marks pending requests past their expiry as expired.
func (m *MockStore) ExpireStaleApprovals(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.approvals {
		if r.Status == ApprovalPending && r.ExpiresAt.Before(now) {
			r.Status = ApprovalExpired
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
