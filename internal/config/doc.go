// Package config handles configuration loading for perch-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PERCH_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	retry:
//	  base_delay: "500ms"
//	  max_delay: "8s"
//	idempotency:
//	  window: "30s"
//
// # Configuration Sections
//
// Server and profile:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	profile: "full"   # readonly, read-extended, full
//
// Database:
//
//	database:
//	  path: "/var/lib/perch/gateway.db"
//
// Mutation policy:
//
//	policy:
//	  enforce_for_mutations: true
//	  max_mutations_per_hour: 20
//	  blocked_tools: ["x_follow_user"]
//	  require_approval_for: ["x_post_tweet"]
//	  dry_run_mutations: false
//	  banned_phrases: ["buy now"]
//	  self_handle: "perchbot"
//	  max_replies_per_user_per_day: 5
//	  user_rules: ["crypto"]
//	  approval_ttl: "24h"
//
// Retry:
//
//	retry:
//	  max_attempts: 3
//	  base_delay: "500ms"
//	  max_delay: "8s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
