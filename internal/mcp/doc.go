// Package mcp implements the Model Context Protocol server for external tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server that exposes the gateway's
// tool registry to external AI clients (Claude Desktop, other LLMs, or
// custom applications).
//
// # Protocol
//
// The server implements the Streamable HTTP transport (2025-11-25) with
// JSON-RPC 2.0 over a single endpoint:
//
//   - POST /mcp - initialize, tools/list, tools/call, notifications
//   - DELETE /mcp - session termination (Mcp-Session-Id header)
//   - GET /healthz - liveness and serving profile
//
// Server-initiated SSE streams are not supported; every tool call returns
// its result inline.
//
// # Sessions
//
// initialize creates an in-memory session and returns its id in the
// Mcp-Session-Id response header. All subsequent requests must echo the
// header. Sessions are bound to the credentials that created them; a
// DELETE with different credentials is refused.
//
// # Authentication
//
// Bearer JWTs on the initialize request:
//
//	Authorization: Bearer <token>
//
// There is no per-token authorization. The registry being served is built
// for one profile, and that profile alone decides the tool surface.
//
// # Tool Results
//
// tools/call responses carry the gateway envelope as text content. Policy
// denials are successful envelopes with a decision in the data; isError is
// set only when the envelope itself reports failure.
package mcp
