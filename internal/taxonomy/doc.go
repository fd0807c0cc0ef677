// Package taxonomy defines the closed set of error codes returned by tool
// calls, with a fixed retryable/transient classification per code.
package taxonomy
