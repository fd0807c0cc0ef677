// ABOUTME: Deterministic fingerprinting of tool calls for idempotency deduplication.
// ABOUTME: Canonicalizes JSON parameters so key order never changes the digest.

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the dedup key for a mutation. A caller-supplied
// idempotency key wins; otherwise the digest is sha256 over the tool name
// and the canonicalized parameters, so two calls with the same arguments
// in different key order collapse to one fingerprint.
func Fingerprint(toolName string, params json.RawMessage, explicitKey string) string {
	if explicitKey != "" {
		return "key:" + explicitKey
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(Canonicalize(params)))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize renders JSON with object keys sorted recursively. Invalid
// JSON is fingerprinted verbatim rather than rejected; validation happens
// at the tool boundary, not here.
func Canonicalize(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case nil:
		b.WriteString("null")
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			fmt.Fprintf(b, "%v", val)
			return
		}
		b.Write(enc)
	}
}
