// ABOUTME: Tests for the MCP HTTP server including session lifecycle and tool dispatch.
// ABOUTME: Validates auth handling, envelope passthrough, and protocol error responses.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/registry"
	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// mockTokenVerifier implements auth.TokenVerifier for testing.
type mockTokenVerifier struct {
	principalID string
	err         error
}

func (m *mockTokenVerifier) Verify(token string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.principalID, nil
}

// testRegistry builds a readonly registry with one echo tool.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	echo := &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:               "echo",
			Description:        "Echoes its arguments back.",
			Category:           registry.CategoryRead,
			Lane:               registry.LaneCommon,
			InputSchema:        `{"type":"object","properties":{"text":{"type":"string"}}}`,
			Profiles:           []registry.Profile{registry.ProfileReadonly},
			PossibleErrorCodes: []taxonomy.Code{taxonomy.CodeValidationError},
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, "invalid arguments")
			}
			if in.Text == "fail" {
				return envelope.Fail(taxonomy.CodeValidationError, "asked to fail")
			}
			return envelope.OK(map[string]string{"text": in.Text})
		},
	}

	r, err := registry.New(registry.ProfileReadonly, []*registry.Tool{echo}, nil, nil)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return r
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = testRegistry(t)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func rpcRequest(t *testing.T, method string, params any, id int) *bytes.Buffer {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "method": method, "id": id}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(body)
}

func doPost(srv *Server, body *bytes.Buffer, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	return rec
}

// initialize performs the handshake and returns the session id.
func initialize(t *testing.T, srv *Server, headers map[string]string) string {
	t.Helper()
	rec := doPost(srv, rpcRequest(t, "initialize", nil, 1), headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sessionID := rec.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return Mcp-Session-Id")
	}
	return sessionID
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func callResult(t *testing.T, resp JSONRPCResponse) MCPCallToolResult {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	var result MCPCallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("call result has no content")
	}
	return result
}

func TestInitialize_CreatesSession(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doPost(srv, rpcRequest(t, "initialize", nil, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Mcp-Session-Id") == "" {
		t.Error("missing Mcp-Session-Id header")
	}

	resp := decodeRPC(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "perch-gateway" {
		t.Errorf("serverInfo.name = %v", info["name"])
	}
}

func TestInitialize_AuthRequired(t *testing.T) {
	srv := newTestServer(t, Config{
		RequireAuth:   true,
		TokenVerifier: &mockTokenVerifier{principalID: "agent:reader"},
	})

	rec := doPost(srv, rpcRequest(t, "initialize", nil, 1), nil)
	resp := decodeRPC(t, rec)
	if resp.Error == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(resp.Error.Message, "authentication required") {
		t.Errorf("message = %q", resp.Error.Message)
	}

	rec = doPost(srv, rpcRequest(t, "initialize", nil, 1),
		map[string]string{"Authorization": "Bearer good-token"})
	if resp := decodeRPC(t, rec); resp.Error != nil {
		t.Fatalf("unexpected error with valid token: %+v", resp.Error)
	}
}

func TestInitialize_InvalidTokenRejected(t *testing.T) {
	srv := newTestServer(t, Config{
		RequireAuth:   true,
		TokenVerifier: &mockTokenVerifier{err: errors.New("bad signature")},
	})

	rec := doPost(srv, rpcRequest(t, "initialize", nil, 1),
		map[string]string{"Authorization": "Bearer forged"})
	resp := decodeRPC(t, rec)
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "invalid or expired") {
		t.Fatalf("expected invalid token error, got %+v", resp.Error)
	}
}

func TestToolsList_ReturnsManifest(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/list", nil, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeRPC(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v", result.Tools)
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("missing input schema")
	}
}

func TestToolsCall_SuccessEnvelope(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/call",
		MCPCallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeRPC(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := callResult(t, resp)
	if result.IsError {
		t.Error("IsError = true for successful envelope")
	}
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(result.Content[0].Text), &env); err != nil {
		t.Fatalf("content is not an envelope: %v", err)
	}
	if !env.Success {
		t.Error("envelope.Success = false")
	}
}

func TestToolsCall_ErrorEnvelopeSetsIsError(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/call",
		MCPCallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"fail"}`)}, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeRPC(t, rec)
	if resp.Error != nil {
		t.Fatalf("tool failures are envelopes, not JSON-RPC errors: %+v", resp.Error)
	}

	result := callResult(t, resp)
	if !result.IsError {
		t.Error("IsError = false for error envelope")
	}
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(result.Content[0].Text), &env); err != nil {
		t.Fatalf("content is not an envelope: %v", err)
	}
	if env.Error == nil || env.Error.Code != taxonomy.CodeValidationError {
		t.Errorf("envelope error = %+v", env.Error)
	}
}

func TestToolsCall_UnknownToolReturnsEnvelope(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/call",
		MCPCallToolParams{Name: "nonexistent"}, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeRPC(t, rec)
	if resp.Error != nil {
		t.Fatalf("unknown tools surface as not_found envelopes: %+v", resp.Error)
	}

	result := callResult(t, resp)
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(result.Content[0].Text), &env); err != nil {
		t.Fatalf("content is not an envelope: %v", err)
	}
	if env.Error == nil || env.Error.Code != taxonomy.CodeNotFound {
		t.Errorf("envelope error = %+v", env.Error)
	}
}

func TestToolsCall_MissingName(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/call", MCPCallToolParams{}, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeRPC(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestPost_MissingSession(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doPost(srv, rpcRequest(t, "tools/list", nil, 2), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPost_UnknownSession(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doPost(srv, rpcRequest(t, "tools/list", nil, 2),
		map[string]string{"Mcp-Session-Id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPost_UnsupportedProtocolVersion(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	rec := doPost(srv, rpcRequest(t, "tools/list", nil, 2), map[string]string{
		"Mcp-Session-Id":       sessionID,
		"Mcp-Protocol-Version": "1999-01-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPost_NotificationAccepted(t *testing.T) {
	srv := newTestServer(t, Config{})
	sessionID := initialize(t, srv, nil)

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	rec := doPost(srv, body, map[string]string{"Mcp-Session-Id": sessionID})
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestPost_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, Config{})

	big := bytes.NewBuffer(make([]byte, MaxRequestBodySize+1))
	rec := doPost(srv, big, nil)
	resp := decodeRPC(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestPost_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doPost(srv, bytes.NewBufferString("{not json"), nil)
	resp := decodeRPC(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestDelete_TerminatesOwnSession(t *testing.T) {
	srv := newTestServer(t, Config{
		TokenVerifier: &mockTokenVerifier{principalID: "agent:reader"},
	})
	sessionID := initialize(t, srv, map[string]string{"Authorization": "Bearer tok-a"})

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer tok-a")
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	// Session is gone now.
	rec2 := doPost(srv, rpcRequest(t, "tools/list", nil, 2),
		map[string]string{"Mcp-Session-Id": sessionID})
	if rec2.Code != http.StatusNotFound {
		t.Errorf("post-delete status = %d, want 404", rec2.Code)
	}
}

func TestDelete_WrongOwnerForbidden(t *testing.T) {
	srv := newTestServer(t, Config{
		TokenVerifier: &mockTokenVerifier{principalID: "agent:reader"},
	})
	sessionID := initialize(t, srv, map[string]string{"Authorization": "Bearer tok-a"})

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer tok-b")
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGet_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["profile"] != "readonly" {
		t.Errorf("body = %v", body)
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("expected error without registry")
	}
	if _, err := NewServer(Config{Registry: testRegistry(t), RequireAuth: true}); err == nil {
		t.Error("expected error when auth required without verifier")
	}
}
