// ABOUTME: Shared dependencies and envelope helpers for the tool handlers.
// ABOUTME: Reads go through the retry runner; mutations classify backend errors directly.

package tools

import (
	"log/slog"

	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/policy"
	"github.com/perchworks/perch-gateway/internal/retry"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

// Deps carries everything the tool handlers need. The composition root
// fills in exactly the dependencies the chosen profile requires: smaller
// profiles leave Write and Gateway nil because none of their tools can
// reference them.
type Deps struct {
	Read    xapi.ReadClient
	Write   xapi.WriteClient
	Gateway *policy.Gateway
	Retry   *retry.Runner
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// failFromResult turns an exhausted retry result into an error envelope,
// carrying the retry count and any backend wait hint.
func failFromResult(res retry.Result) *envelope.Envelope {
	env := envelope.Fail(res.Code, res.Err.Error()).WithRetryCount(res.RetryCount)
	if res.RetryAfterMS > 0 {
		env.WithRetryAfter(res.RetryAfterMS)
	}
	return env
}

// decisionEnvelope wraps a non-executing verdict in a success envelope.
// Denials are not errors: the gateway did its job correctly, and the
// agent needs the decision, not an exception.
func decisionEnvelope(v policy.Verdict) *envelope.Envelope {
	data := map[string]any{
		"policy_decision": v.Decision,
		"reason":          v.Reason,
	}
	switch v.Decision {
	case envelope.DecisionRoutedToApproval:
		data["routed_to_approval"] = true
		data["queue_id"] = v.QueueID
	case envelope.DecisionDryRun:
		data["dry_run"] = true
	}
	if v.Duplicate {
		data["duplicate_suppressed"] = true
	}
	return envelope.OK(data)
}
