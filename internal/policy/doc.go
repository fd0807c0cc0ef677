// Package policy implements the mutation policy gateway: the single
// governance path every mutation-capable tool traverses before touching
// the backend. It evaluates an ordered ladder of checks (block list,
// hourly rate cap, hard safety rules, user rules, approval routing,
// dry-run) and runs the idempotency check for allowed mutations, auditing
// every decision.
package policy
