// ABOUTME: Tests for the SQLite store's audit log and approval queue.
// ABOUTME: Exercises schema creation, filtering, decide semantics, and expiry.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchworks/perch-gateway/internal/envelope"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAudit_GeneratesIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &AuditEntry{
		ToolName:     "x_post_tweet",
		ParamsDigest: "abc123",
		Decision:     envelope.DecisionAllowed,
	}
	require.NoError(t, s.AppendAudit(ctx, e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestListAudit_FilterByDecisionAndTool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []*AuditEntry{
		{ToolName: "x_post_tweet", ParamsDigest: "d1", Decision: envelope.DecisionAllowed},
		{ToolName: "x_post_tweet", ParamsDigest: "d2", Decision: envelope.DecisionDeniedBlocked},
		{ToolName: "x_like_tweet", ParamsDigest: "d3", Decision: envelope.DecisionAllowed},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	blocked := envelope.DecisionDeniedBlocked
	got, err := s.ListAudit(ctx, AuditFilter{Decision: &blocked})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].ParamsDigest)

	tool := "x_like_tweet"
	got, err = s.ListAudit(ctx, AuditFilter{ToolName: &tool})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d3", got[0].ParamsDigest)
}

func TestListAudit_DetailRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &AuditEntry{
		ToolName:     "x_reply_to_tweet",
		ParamsDigest: "dd",
		Decision:     envelope.DecisionDeniedHardRule,
		Reason:       "banned phrase",
		Detail:       map[string]any{"phrase": "buy now"},
	}
	require.NoError(t, s.AppendAudit(ctx, e))

	got, err := s.ListAudit(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "banned phrase", got[0].Reason)
	assert.Equal(t, "buy now", got[0].Detail["phrase"])
}

func TestApproval_CreateGetDecide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &ApprovalRequest{
		ToolName:     "x_post_tweet",
		ArgsJSON:     `{"text":"hello"}`,
		ParamsDigest: "digest",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateApproval(ctx, r))
	require.NotEmpty(t, r.ID)

	got, err := s.GetApproval(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, got.Status)

	require.NoError(t, s.DecideApproval(ctx, r.ID, ApprovalApproved, "operator"))

	got, err = s.GetApproval(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, got.Status)
	assert.Equal(t, "operator", got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
}

func TestDecideApproval_AlreadyDecided(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &ApprovalRequest{ToolName: "x_post_tweet", ArgsJSON: "{}", ParamsDigest: "d", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateApproval(ctx, r))
	require.NoError(t, s.DecideApproval(ctx, r.ID, ApprovalRejected, "op"))

	err := s.DecideApproval(ctx, r.ID, ApprovalApproved, "op")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecideApproval_InvalidStatus(t *testing.T) {
	s := newTestStore(t)

	err := s.DecideApproval(context.Background(), "any", ApprovalExpired, "op")
	assert.Error(t, err)
}

func TestGetApproval_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetApproval(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireStaleApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := &ApprovalRequest{ToolName: "a", ArgsJSON: "{}", ParamsDigest: "d1", ExpiresAt: time.Now().Add(-time.Minute)}
	live := &ApprovalRequest{ToolName: "b", ArgsJSON: "{}", ParamsDigest: "d2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateApproval(ctx, stale))
	require.NoError(t, s.CreateApproval(ctx, live))

	n, err := s.ExpireStaleApprovals(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetApproval(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalExpired, got.Status)

	got, err = s.GetApproval(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, got.Status)
}

func TestListApprovals_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &ApprovalRequest{ToolName: "a", ArgsJSON: "{}", ParamsDigest: "d1", ExpiresAt: time.Now().Add(time.Hour)}
	b := &ApprovalRequest{ToolName: "b", ArgsJSON: "{}", ParamsDigest: "d2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateApproval(ctx, a))
	require.NoError(t, s.CreateApproval(ctx, b))
	require.NoError(t, s.DecideApproval(ctx, a.ID, ApprovalApproved, "op"))

	pending := ApprovalPending
	got, err := s.ListApprovals(ctx, ApprovalFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}
