// Package config binds the control plane's runtime configuration to pflag
// flags with environment-variable overrides, following the teacher's
// convention of registering flags directly on a cobra command's flag set
// rather than through a separate config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds every tunable the control plane needs. Zero values are never
// used directly — Defaults() fills them in before flags are parsed, and
// flags (then env vars) may override them.
type Config struct {
	// PolicyURL is the websocket endpoint of the external LLM policy server.
	PolicyURL string

	// MaxSteps is the step cap applied to every session, both the one
	// `run` drives and each server-triggered session under `serve`; there
	// is no per-session override.
	MaxSteps int

	// ScreenshotQuality is checked by Validate to lie in (0,100]. The agent
	// loop does not read it: observation screenshots are always captured as
	// JPEG at quality 30.
	ScreenshotQuality int

	// HeartbeatInterval is how often the bridge transport pings the policy
	// server (spec default: 20s).
	HeartbeatInterval time.Duration

	// ReconnectBaseDelay and ReconnectMaxAttempts parameterize the bridge's
	// exponential backoff (spec default: 1s base, 5 attempts).
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int

	// SQLitePath is the file holding the persistent session record. An empty
	// path opens an in-memory database, useful for tests.
	SQLitePath string

	// CDPEndpoint is the browser's DevTools HTTP base URL, e.g.
	// "http://127.0.0.1:9222". The driver resolves individual tabs'
	// debugger websocket URLs from this through /json/list.
	CDPEndpoint string

	// HTTPAddr is the listen address for the operator-facing status server.
	HTTPAddr string

	// LogLevel and LogJSON configure internal/logging.
	LogLevel string
	LogJSON  bool
}

// Defaults returns a Config populated with the spec's documented defaults.
func Defaults() Config {
	return Config{
		MaxSteps:             15,
		ScreenshotQuality:    30,
		HeartbeatInterval:    20 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxAttempts: 5,
		SQLitePath:           "agentbridge.db",
		CDPEndpoint:          "http://127.0.0.1:9222",
		HTTPAddr:             ":8089",
		LogLevel:             "info",
	}
}

// BindFlags registers every field on fs, using cfg's current values (set by
// Defaults or by the caller) as the flag defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.PolicyURL, "policy-url", cfg.PolicyURL, "websocket URL of the policy server")
	fs.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "maximum agent-loop steps before forced cleanup")
	fs.IntVar(&cfg.ScreenshotQuality, "screenshot-quality", cfg.ScreenshotQuality, "JPEG quality setting, validated only (observation screenshots use quality 30)")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "bridge heartbeat interval")
	fs.DurationVar(&cfg.ReconnectBaseDelay, "reconnect-base-delay", cfg.ReconnectBaseDelay, "base delay for bridge reconnect backoff")
	fs.IntVar(&cfg.ReconnectMaxAttempts, "reconnect-max-attempts", cfg.ReconnectMaxAttempts, "reconnect attempts before the bridge reports an error state")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "path to the persistent session record database")
	fs.StringVar(&cfg.CDPEndpoint, "cdp-endpoint", cfg.CDPEndpoint, "DevTools HTTP endpoint of the browser to drive")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "listen address for the status HTTP server")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit logs as JSON instead of text")
}

// ApplyEnvOverrides overlays AGENTBRIDGE_*-prefixed environment variables
// onto cfg, replacing whatever value cfg holds for each variable that is
// set. The CLI calls it from each command's Complete, after flags have been
// parsed, so a set variable also overrides a flag passed explicitly.
func ApplyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("AGENTBRIDGE_POLICY_URL"); ok {
		cfg.PolicyURL = v
	}
	if v, ok := os.LookupEnv("AGENTBRIDGE_MAX_STEPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid AGENTBRIDGE_MAX_STEPS %q: %w", v, err)
		}
		cfg.MaxSteps = n
	}
	if v, ok := os.LookupEnv("AGENTBRIDGE_SQLITE_PATH"); ok {
		cfg.SQLitePath = v
	}
	if v, ok := os.LookupEnv("AGENTBRIDGE_CDP_ENDPOINT"); ok {
		cfg.CDPEndpoint = v
	}
	if v, ok := os.LookupEnv("AGENTBRIDGE_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	return nil
}

// Validate reports a descriptive error if cfg cannot drive a session.
func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: max-steps must be positive, got %d", c.MaxSteps)
	}
	if c.ScreenshotQuality <= 0 || c.ScreenshotQuality > 100 {
		return fmt.Errorf("config: screenshot-quality must be in (0,100], got %d", c.ScreenshotQuality)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("config: reconnect-max-attempts must be positive, got %d", c.ReconnectMaxAttempts)
	}
	return nil
}
