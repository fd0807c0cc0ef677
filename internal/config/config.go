// ABOUTME: Configuration loading and parsing for perch-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete perch-gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Profile     string            `yaml:"profile"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Policy      PolicyConfig      `yaml:"policy"`
	Retry       RetryConfig       `yaml:"retry"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds MCP endpoint authentication configuration.
type AuthConfig struct {
	RequireAuth bool   `yaml:"require_auth"`
	JWTSecret   string `yaml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// PolicyConfig is the governance surface consumed by the mutation gateway.
type PolicyConfig struct {
	EnforceForMutations bool     `yaml:"enforce_for_mutations"`
	RequireApprovalFor  []string `yaml:"require_approval_for"`
	BlockedTools        []string `yaml:"blocked_tools"`
	DryRunMutations     bool     `yaml:"dry_run_mutations"`
	MaxMutationsPerHour int      `yaml:"max_mutations_per_hour"`

	// Hard-rule inputs. BannedPhrases and the self handle feed fixed
	// checks; UserRules are operator-supplied substring filters.
	BannedPhrases     []string `yaml:"banned_phrases"`
	SelfHandle        string   `yaml:"self_handle"`
	MaxRepliesPerUser int      `yaml:"max_replies_per_user_per_day"`
	UserRules         []string `yaml:"user_rules"`

	ApprovalTTL    time.Duration `yaml:"-"`
	ApprovalTTLRaw string        `yaml:"approval_ttl"`
}

// RetryConfig holds the backoff policy for transient backend failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	BaseDelay    time.Duration `yaml:"-"`
	MaxDelay     time.Duration `yaml:"-"`
	BaseDelayRaw string        `yaml:"base_delay"`
	MaxDelayRaw  string        `yaml:"max_delay"`
}

// IdempotencyConfig holds the mutation deduplication window.
type IdempotencyConfig struct {
	MaxEntries int `yaml:"max_entries"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with deployment defaults.
func (c *Config) applyDefaults() {
	if c.Profile == "" {
		c.Profile = "readonly"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.Idempotency.Window == 0 {
		c.Idempotency.Window = 30 * time.Second
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = 10000
	}
	if c.Policy.MaxMutationsPerHour == 0 {
		c.Policy.MaxMutationsPerHour = 20
	}
	if c.Policy.MaxRepliesPerUser == 0 {
		c.Policy.MaxRepliesPerUser = 5
	}
	if c.Policy.ApprovalTTL == 0 {
		c.Policy.ApprovalTTL = 24 * time.Hour
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Profile {
	case "readonly", "read-extended", "full":
	default:
		return fmt.Errorf("profile must be one of readonly, read-extended, full (got %q)", c.Profile)
	}

	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.require_auth is set")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if c.Policy.MaxMutationsPerHour < 1 {
		return fmt.Errorf("policy.max_mutations_per_hour must be at least 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Retry.BaseDelayRaw, &cfg.Retry.BaseDelay, "retry.base_delay"},
		{cfg.Retry.MaxDelayRaw, &cfg.Retry.MaxDelay, "retry.max_delay"},
		{cfg.Idempotency.WindowRaw, &cfg.Idempotency.Window, "idempotency.window"},
		{cfg.Policy.ApprovalTTLRaw, &cfg.Policy.ApprovalTTL, "policy.approval_ttl"},
		{cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL, "auth.token_ttl"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
