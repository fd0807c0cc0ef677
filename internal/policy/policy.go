// ABOUTME: Types and configuration for the mutation policy gateway.
// ABOUTME: Every mutation decision is one of a closed set of verdicts, audited without exception.

package policy

import (
	"encoding/json"
	"time"

	"github.com/perchworks/perch-gateway/internal/envelope"
)

// Config is the governance surface the gateway evaluates against. It is a
// snapshot taken at construction; operators restart to change policy.
type Config struct {
	EnforceForMutations bool
	BlockedTools        []string
	RequireApprovalFor  []string
	DryRunMutations     bool
	MaxMutationsPerHour int

	// Hard-rule inputs.
	BannedPhrases     []string
	SelfHandle        string
	MaxRepliesPerUser int // per author, per trailing day

	// Operator-supplied keyword filters.
	UserRules []string

	ApprovalTTL time.Duration
}

// Request describes one mutation attempt presented to the gateway.
type Request struct {
	ToolName       string
	Args           json.RawMessage
	IdempotencyKey string // caller-supplied, optional

	// Text is the outbound content for content-bearing mutations, empty
	// otherwise. Hard and user rules match against it.
	Text string

	// TargetAuthor is the handle of the account being replied to or acted
	// on, when the tool has one. Feeds self-reply prevention and the
	// per-author daily cap.
	TargetAuthor string

	// Undo marks naturally idempotent reversals (unlike, unretweet,
	// unfollow, delete). They traverse policy but skip deduplication.
	Undo bool
}

// Verdict is the gateway's decision on a Request. Exactly one verdict is
// produced per attempt. Denials are verdicts, not errors: the caller wraps
// them in a success envelope carrying the decision.
type Verdict struct {
	Decision envelope.Decision
	Reason   string

	// QueueID is set when Decision is routed_to_approval.
	QueueID string

	// Duplicate is set when Decision is allowed but the idempotency store
	// already holds the fingerprint: the backend must not be called again.
	Duplicate bool

	// Fingerprint is the dedup key computed for the attempt, recorded for
	// audit regardless of outcome.
	Fingerprint string
}

// Allowed reports whether the backend call may proceed.
func (v Verdict) Allowed() bool {
	return v.Decision == envelope.DecisionAllowed && !v.Duplicate
}
