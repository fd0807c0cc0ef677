// ABOUTME: The single governance path every mutation-capable tool must traverse.
// ABOUTME: Ordered checks: block, rate cap, hard rules, user rules, approval, dry-run, dedup.

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/perchworks/perch-gateway/internal/dedupe"
	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/store"
)

// Gateway evaluates mutation attempts. All shared state (the hourly
// window, per-author counters) lives behind one mutex, and the whole
// decision ladder up to and including the rate-counter increment runs in a
// single critical section: two concurrent attempts can never both pass a
// rate check that only one should.
type Gateway struct {
	cfg      Config
	blocked  map[string]struct{}
	approval map[string]struct{}
	store    store.Store
	idem     *dedupe.Store
	logger   *slog.Logger

	mu        sync.Mutex
	mutations []time.Time            // allowed-mutation timestamps, trailing hour
	replies   map[string][]time.Time // per-author reply timestamps, trailing day

	now func() time.Time
}

// NewGateway builds a gateway over the given persistence and idempotency
// store.
func NewGateway(cfg Config, st store.Store, idem *dedupe.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default().With("component", "policy")
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 24 * time.Hour
	}

	blocked := make(map[string]struct{}, len(cfg.BlockedTools))
	for _, name := range cfg.BlockedTools {
		blocked[normalizeToolName(name)] = struct{}{}
	}
	approval := make(map[string]struct{}, len(cfg.RequireApprovalFor))
	for _, name := range cfg.RequireApprovalFor {
		approval[normalizeToolName(name)] = struct{}{}
	}

	return &Gateway{
		cfg:      cfg,
		blocked:  blocked,
		approval: approval,
		store:    st,
		idem:     idem,
		logger:   logger,
		replies:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Authorize runs the ordered policy evaluation for one mutation attempt.
// The first matching decision wins. A non-nil error means evaluation
// itself failed (e.g. the audit store is unavailable) and the caller must
// surface a policy-category error, never default to allowed.
func (g *Gateway) Authorize(ctx context.Context, req Request) (Verdict, error) {
	fingerprint := dedupe.Fingerprint(req.ToolName, req.Args, req.IdempotencyKey)

	verdict := g.evaluate(req, fingerprint)

	// Approval queueing does store I/O and therefore happens outside the
	// evaluation lock; routed attempts never touch the rate counter.
	if verdict.Decision == envelope.DecisionRoutedToApproval {
		queueID, err := g.enqueueApproval(ctx, req, fingerprint)
		if err != nil {
			return Verdict{}, fmt.Errorf("queueing approval: %w", err)
		}
		verdict.QueueID = queueID
	}

	if err := g.audit(ctx, req, verdict); err != nil {
		// An unauditable decision must not execute.
		return Verdict{}, fmt.Errorf("recording policy audit: %w", err)
	}

	g.logger.Info("policy decision",
		"tool", req.ToolName,
		"decision", verdict.Decision,
		"reason", verdict.Reason,
		"duplicate", verdict.Duplicate,
	)
	return verdict, nil
}

// evaluate applies the decision ladder under the gateway mutex. The lock
// covers the rate check, the rule checks, the idempotency check, and the
// counter increment, so the decision is atomic with its bookkeeping.
func (g *Gateway) evaluate(req Request, fingerprint string) Verdict {
	name := normalizeToolName(req.ToolName)
	v := Verdict{Fingerprint: fingerprint}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.EnforceForMutations {
		v.Decision = envelope.DecisionAllowed
		v.Reason = "policy enforcement disabled"
		return g.dedupAndRecordLocked(req, v)
	}

	// 1. Block list.
	if _, ok := g.blocked[name]; ok {
		v.Decision = envelope.DecisionDeniedBlocked
		v.Reason = fmt.Sprintf("tool %s is blocked by configuration", req.ToolName)
		return v
	}

	// 2. Hourly rate cap.
	if g.trailingHourCountLocked() >= g.cfg.MaxMutationsPerHour {
		v.Decision = envelope.DecisionDeniedRateLimited
		v.Reason = fmt.Sprintf("hourly mutation cap of %d reached", g.cfg.MaxMutationsPerHour)
		return v
	}

	// 3. Hard safety rules.
	if reason := g.hardRuleViolationLocked(req); reason != "" {
		v.Decision = envelope.DecisionDeniedHardRule
		v.Reason = reason
		return v
	}

	// 4. User-defined rules.
	if reason := g.userRuleViolation(req); reason != "" {
		v.Decision = envelope.DecisionDeniedUserRule
		v.Reason = reason
		return v
	}

	// 5. Approval routing. The queue insert happens in Authorize, after
	// the lock is released.
	if _, ok := g.approval[name]; ok {
		v.Decision = envelope.DecisionRoutedToApproval
		v.Reason = "tool requires operator approval"
		return v
	}

	// 6. Dry-run mode.
	if g.cfg.DryRunMutations {
		v.Decision = envelope.DecisionDryRun
		v.Reason = "dry-run mode active"
		return v
	}

	// 7. Allowed; deduplicate before the backend is touched.
	v.Decision = envelope.DecisionAllowed
	return g.dedupAndRecordLocked(req, v)
}

// dedupAndRecordLocked runs the idempotency check and, when the mutation
// will actually execute, records it against the rate and per-author
// counters. Must be called with mu held; the dedupe store has its own
// lock, acquired strictly after this one.
func (g *Gateway) dedupAndRecordLocked(req Request, v Verdict) Verdict {
	if !req.Undo && g.idem != nil {
		if g.idem.CheckAndRecord(v.Fingerprint) {
			v.Duplicate = true
			v.Reason = "duplicate suppressed within idempotency window"
			return v
		}
	}

	now := g.now()
	g.mutations = append(g.mutations, now)
	if req.TargetAuthor != "" {
		g.replies[req.TargetAuthor] = append(g.replies[req.TargetAuthor], now)
	}
	return v
}

// trailingHourCountLocked prunes and counts the trailing-hour window.
// Must be called with mu held.
func (g *Gateway) trailingHourCountLocked() int {
	cutoff := g.now().Add(-time.Hour)
	kept := g.mutations[:0]
	for _, ts := range g.mutations {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.mutations = kept
	return len(g.mutations)
}

// hardRuleViolationLocked applies the fixed, non-configurable safety
// checks. Must be called with mu held (it reads the per-author counters).
func (g *Gateway) hardRuleViolationLocked(req Request) string {
	if req.Text != "" {
		lower := strings.ToLower(req.Text)
		for _, phrase := range g.cfg.BannedPhrases {
			if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
				return fmt.Sprintf("content matches banned phrase %q", phrase)
			}
		}
	}

	if g.cfg.SelfHandle != "" && req.TargetAuthor != "" &&
		strings.EqualFold(req.TargetAuthor, g.cfg.SelfHandle) {
		return "self-reply prevented"
	}

	if g.cfg.MaxRepliesPerUser > 0 && req.TargetAuthor != "" {
		if g.authorRepliesTodayLocked(req.TargetAuthor) >= g.cfg.MaxRepliesPerUser {
			return fmt.Sprintf("daily reply cap of %d reached for @%s", g.cfg.MaxRepliesPerUser, req.TargetAuthor)
		}
	}

	return ""
}

// userRuleViolation applies operator-supplied keyword filters to outbound
// content. Pure; safe with or without the lock.
func (g *Gateway) userRuleViolation(req Request) string {
	if req.Text == "" {
		return ""
	}
	lower := strings.ToLower(req.Text)
	for _, rule := range g.cfg.UserRules {
		if rule != "" && strings.Contains(lower, strings.ToLower(rule)) {
			return fmt.Sprintf("content matches user rule %q", rule)
		}
	}
	return ""
}

// authorRepliesTodayLocked counts replies to one author in the trailing
// day, pruning old entries. Must be called with mu held.
func (g *Gateway) authorRepliesTodayLocked(author string) int {
	cutoff := g.now().Add(-24 * time.Hour)
	kept := g.replies[author][:0]
	for _, ts := range g.replies[author] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(g.replies, author)
		return 0
	}
	g.replies[author] = kept
	return len(kept)
}

// enqueueApproval persists the parked mutation and returns its queue id.
func (g *Gateway) enqueueApproval(ctx context.Context, req Request, fingerprint string) (string, error) {
	r := &store.ApprovalRequest{
		ToolName:     req.ToolName,
		ArgsJSON:     string(req.Args),
		ParamsDigest: fingerprint,
		ExpiresAt:    g.now().Add(g.cfg.ApprovalTTL),
	}
	if err := g.store.CreateApproval(ctx, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// audit records the decision. Called for every verdict, allowed or denied.
func (g *Gateway) audit(ctx context.Context, req Request, v Verdict) error {
	entry := &store.AuditEntry{
		ToolName:     req.ToolName,
		ParamsDigest: v.Fingerprint,
		Decision:     v.Decision,
		Reason:       v.Reason,
	}
	if v.QueueID != "" {
		entry.Detail = map[string]any{"queue_id": v.QueueID}
	}
	if v.Duplicate {
		entry.Detail = map[string]any{"duplicate_suppressed": true}
	}
	return g.store.AppendAudit(ctx, entry)
}

func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
