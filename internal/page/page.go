// ABOUTME: Normalizes heterogeneous backend list responses into one pagination contract.
// ABOUTME: Agents iterate by re-issuing the same tool with next_token until has_more is false.

package page

import (
	"encoding/json"

	"github.com/perchworks/perch-gateway/internal/envelope"
)

// Paged is any list-shaped backend response that can report its cursor and
// result count. Single-entity reads never implement this; their envelopes
// omit pagination entirely.
type Paged interface {
	PageToken() string
	PageCount() int
}

// Normalize maps a list-shaped response into the uniform pagination
// contract. has_more is derived from token presence.
func Normalize(p Paged) *envelope.PaginationInfo {
	return envelope.NewPagination(p.PageToken(), p.PageCount())
}

// FromRaw extracts pagination from an untyped backend payload. Different X
// endpoints disagree on where the cursor lives; all known variants are
// folded here so handlers never inspect response shapes themselves.
func FromRaw(raw json.RawMessage) *envelope.PaginationInfo {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return envelope.NewPagination("", 0)
	}

	token := firstString(body, "next_token", "cursor", "pagination_token")
	count := firstInt(body, "result_count", "count")

	if meta, ok := body["meta"].(map[string]any); ok {
		if token == "" {
			token = firstString(meta, "next_token", "cursor", "pagination_token")
		}
		if count == 0 {
			count = firstInt(meta, "result_count", "count")
		}
	}

	return envelope.NewPagination(token, count)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return int(v)
		}
	}
	return 0
}
