// ABOUTME: Entry point for the perch-gateway MCP server.
// ABOUTME: Wires config, storage, policy, and the profile-scoped tool registry.

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/perchworks/perch-gateway/internal/auth"
	"github.com/perchworks/perch-gateway/internal/config"
	"github.com/perchworks/perch-gateway/internal/dedupe"
	"github.com/perchworks/perch-gateway/internal/mcp"
	"github.com/perchworks/perch-gateway/internal/policy"
	"github.com/perchworks/perch-gateway/internal/registry"
	"github.com/perchworks/perch-gateway/internal/retry"
	"github.com/perchworks/perch-gateway/internal/store"
	"github.com/perchworks/perch-gateway/internal/tools"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
 _ __   ___ _ __ ___| |__
| '_ \ / _ \ '__/ __| '_ \
| |_) |  __/ || (__| | | |
| .__/ \___|_|  \___|_| |_|
|_|        gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: PERCH_CONFIG env var > XDG_CONFIG_HOME/perch/gateway.yaml > ~/.config/perch/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PERCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "perch", "gateway.yaml")
}

// getDataPath returns the path to the perch data directory.
// Priority: XDG_DATA_HOME/perch > ~/.local/share/perch
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "perch")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: perch-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the gateway server")
		fmt.Println("  init                  Create a new config file interactively")
		fmt.Println("  token --sub SUBJECT   Mint a JWT for an MCP client")
		fmt.Println("  health                Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	profile, err := registry.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Profile:  ")
	cyan.Println(profile)
	if cfg.Policy.DryRunMutations {
		yellow.Println("    ▶ dry-run mode: mutations will not execute")
	}
	fmt.Println()

	logger.Info("starting perch-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"profile", profile,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	idem := dedupe.New(cfg.Idempotency.Window, cfg.Idempotency.MaxEntries)
	defer idem.Close()

	runner := retry.NewRunner(retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, logger.With("component", "retry"))

	// The real backend client is injected by the deployment; without one
	// the gateway serves the in-memory fake, which is only useful for
	// demos and dry runs.
	backend := xapi.NewFake()
	logger.Warn("no backend client configured, using in-memory fake")

	deps := tools.Deps{
		Read:   backend,
		Retry:  runner,
		Logger: logger.With("component", "tools"),
	}

	var meta *registry.MetaOptions
	if profile == registry.ProfileFull {
		gw := policy.NewGateway(policy.Config{
			EnforceForMutations: cfg.Policy.EnforceForMutations,
			BlockedTools:        cfg.Policy.BlockedTools,
			RequireApprovalFor:  cfg.Policy.RequireApprovalFor,
			DryRunMutations:     cfg.Policy.DryRunMutations,
			MaxMutationsPerHour: cfg.Policy.MaxMutationsPerHour,
			BannedPhrases:       cfg.Policy.BannedPhrases,
			SelfHandle:          cfg.Policy.SelfHandle,
			MaxRepliesPerUser:   cfg.Policy.MaxRepliesPerUser,
			UserRules:           cfg.Policy.UserRules,
			ApprovalTTL:         cfg.Policy.ApprovalTTL,
		}, st, idem, logger.With("component", "policy"))

		deps.Write = backend
		deps.Gateway = gw

		mode := "live"
		if cfg.Policy.DryRunMutations {
			mode = "dry-run"
		}
		meta = &registry.MetaOptions{
			Mode:         mode,
			ApprovalMode: len(cfg.Policy.RequireApprovalFor) > 0,
		}
	}

	toolSet, err := tools.ForProfile(profile, deps)
	if err != nil {
		return fmt.Errorf("building tool set: %w", err)
	}

	reg, err := registry.New(profile, toolSet, meta, logger.With("component", "registry"))
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	srv, err := mcp.NewServer(mcp.Config{
		Registry:      reg,
		Logger:        logger.With("component", "mcp"),
		TokenVerifier: verifier,
		RequireAuth:   cfg.Auth.RequireAuth,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expire parked approvals in the background.
	go expireApprovals(ctx, st, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// expireApprovals sweeps the approval queue every minute until ctx ends.
func expireApprovals(ctx context.Context, st store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.ExpireStaleApprovals(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("expiring approvals", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired stale approvals", "count", n)
			}
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints a JWT for an MCP client using the configured secret.
// Supports both "--sub value" and "--sub=value" formats.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "--ttl="):
			parsed, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires %s)\n", subject, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("perch-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	profile := prompt(reader, "Profile (readonly/read-extended/full)", "readonly")
	if _, err := registry.ParseProfile(profile); err != nil {
		return err
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	requireAuthStr := prompt(reader, "Require bearer auth on MCP?", "yes")
	requireAuth := strings.ToLower(requireAuthStr) == "yes" || strings.ToLower(requireAuthStr) == "y"

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// Policy (only meaningful for the full profile, harmless otherwise)
	fmt.Println("\n--- Policy Configuration ---")
	selfHandle := prompt(reader, "Own account handle (for self-reply prevention)", "")
	dryRunStr := prompt(reader, "Start mutations in dry-run mode?", "yes")
	dryRun := strings.ToLower(dryRunStr) == "yes" || strings.ToLower(dryRunStr) == "y"

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# perch-gateway configuration\n")
	cfg.WriteString("# Generated by perch-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString(fmt.Sprintf("profile: \"%s\"\n", profile))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  require_auth: %t\n", requireAuth))
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("policy:\n")
	cfg.WriteString("  enforce_for_mutations: true\n")
	cfg.WriteString(fmt.Sprintf("  dry_run_mutations: %t\n", dryRun))
	cfg.WriteString("  max_mutations_per_hour: 20\n")
	cfg.WriteString("  max_replies_per_user_per_day: 5\n")
	if selfHandle != "" {
		cfg.WriteString(fmt.Sprintf("  self_handle: \"%s\"\n", selfHandle))
	}
	cfg.WriteString("\n")

	cfg.WriteString("retry:\n")
	cfg.WriteString("  max_attempts: 3\n")
	cfg.WriteString("  base_delay: \"500ms\"\n")
	cfg.WriteString("  max_delay: \"8s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("idempotency:\n")
	cfg.WriteString("  window: \"30s\"\n")
	cfg.WriteString("  max_entries: 10000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  perch-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
