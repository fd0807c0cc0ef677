// Package envelope defines the success/error/metadata wire shape shared by
// every tool call, including pagination info and policy decision values.
package envelope
