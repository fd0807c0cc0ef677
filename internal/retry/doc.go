// Package retry wraps backend read calls in a bounded exponential backoff
// loop with an externally observable attempt counter.
package retry
