// Package auth provides JWT bearer authentication for the MCP endpoint.
//
// Tokens are HS256-signed JWTs carrying the principal in the "sub" claim.
// The gateway only verifies; issuing is an operator task:
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("agent:reader", 24*time.Hour)
//	principal, err := verifier.Verify(token)
//
// Authorization is not token-based at all: the serving profile decides
// which tools exist, so a verified principal can call exactly what the
// deployment was built to offer.
package auth
