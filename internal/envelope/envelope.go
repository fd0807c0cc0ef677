// ABOUTME: The single response shape every tool call returns, success or failure.
// ABOUTME: Error envelopes derive retryability from the taxonomy so call sites cannot lie.

package envelope

import (
	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// ToolVersion is reported in every envelope's metadata.
const ToolVersion = "1.0"

// Decision is the policy gateway's verdict on a mutation attempt. It is
// part of the wire shape: denials are successful envelopes carrying a
// decision, and error envelopes echo the decision that produced them.
type Decision string

const (
	DecisionAllowed           Decision = "allowed"
	DecisionDeniedBlocked     Decision = "denied_blocked"
	DecisionDeniedRateLimited Decision = "denied_rate_limited"
	DecisionDeniedHardRule    Decision = "denied_hard_rule"
	DecisionDeniedUserRule    Decision = "denied_user_rule"
	DecisionRoutedToApproval  Decision = "routed_to_approval"
	DecisionDryRun            Decision = "dry_run"
)

// PaginationInfo is attached to list-shaped reads only. HasMore is derived
// from token presence and never set independently.
type PaginationInfo struct {
	NextToken   *string `json:"next_token"`
	ResultCount int     `json:"result_count"`
	HasMore     bool    `json:"has_more"`
}

// NewPagination builds PaginationInfo from an optional cursor token and a
// result count. An empty token means the listing is exhausted.
func NewPagination(nextToken string, resultCount int) *PaginationInfo {
	info := &PaginationInfo{ResultCount: resultCount}
	if nextToken != "" {
		token := nextToken
		info.NextToken = &token
		info.HasMore = true
	}
	return info
}

// Meta carries per-call metadata. Mode and ApprovalMode are populated only
// by the full profile's meta decorator; smaller profiles never set them, so
// their envelopes never contain the fields at all.
type Meta struct {
	ToolVersion  string          `json:"tool_version"`
	ElapsedMS    int64           `json:"elapsed_ms"`
	RetryCount   int             `json:"retry_count,omitempty"`
	Pagination   *PaginationInfo `json:"pagination,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	ApprovalMode *bool           `json:"approval_mode,omitempty"`
}

// ErrorBody describes a failed call. Retryable is derived from Code at
// construction and is not settable independently.
type ErrorBody struct {
	Code           taxonomy.Code `json:"code"`
	Message        string        `json:"message"`
	Retryable      bool          `json:"retryable"`
	RetryAfterMS   int64         `json:"retry_after,omitempty"`
	PolicyDecision Decision      `json:"policy_decision,omitempty"`
}

// Envelope is the only shape a tool handler may return. Data is present
// iff Success; Error is present iff not.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// OK builds a success envelope around data.
func OK(data any) *Envelope {
	return &Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{ToolVersion: ToolVersion},
	}
}

// Fail builds an error envelope for the given code and message. Retryable
// is looked up in the taxonomy; codes outside the catalogue are coerced to
// the internal code so the wire never carries an unclassified error.
func Fail(code taxonomy.Code, message string) *Envelope {
	if !taxonomy.Known(code) {
		code = taxonomy.CodeInternal
	}
	return &Envelope{
		Success: false,
		Data:    nil,
		Error: &ErrorBody{
			Code:      code,
			Message:   message,
			Retryable: taxonomy.Retryable(code),
		},
		Meta: Meta{ToolVersion: ToolVersion},
	}
}

// WithRetryAfter attaches the backend's wait hint, in milliseconds.
// No-op on success envelopes.
func (e *Envelope) WithRetryAfter(ms int64) *Envelope {
	if e.Error != nil {
		e.Error.RetryAfterMS = ms
	}
	return e
}

// WithDecision records the policy decision that produced this envelope.
// On success envelopes the decision travels in Data (set by the gateway);
// on error envelopes it is attached to the error body.
func (e *Envelope) WithDecision(d Decision) *Envelope {
	if e.Error != nil {
		e.Error.PolicyDecision = d
	}
	return e
}

// WithPagination attaches pagination metadata for list-shaped reads.
func (e *Envelope) WithPagination(p *PaginationInfo) *Envelope {
	e.Meta.Pagination = p
	return e
}

// WithRetryCount records attempts beyond the first.
func (e *Envelope) WithRetryCount(n int) *Envelope {
	e.Meta.RetryCount = n
	return e
}

// WithElapsed records the call's wall time in milliseconds.
func (e *Envelope) WithElapsed(ms int64) *Envelope {
	e.Meta.ElapsedMS = ms
	return e
}
