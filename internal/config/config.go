// Package config loads monitor configuration from a TOML file and watches
// it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/backend"
	"github.com/samotage/claude-monitor/internal/logging"
)

var log = logging.ForComponent(logging.CompConfig)

// FileName is the TOML config file inside the monitor directory.
const FileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	// Backend selects the terminal backend: "tmux" or "iterm2".
	Backend string `toml:"backend"`

	// Tool names the agent whose detection patterns apply by default.
	Tool string `toml:"tool"`

	// PollIntervalSeconds is the scan cycle period.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// StallThresholdSeconds flags sessions stuck in processing with no new
	// output for this long. Zero disables stall detection.
	StallThresholdSeconds int `toml:"stall_threshold_seconds"`

	// Patterns overrides and extends the built-in detection patterns.
	Patterns PatternSettings `toml:"patterns"`

	// Log configures the correlation log.
	Log CorrLogSettings `toml:"log"`

	// Web configures the HTTP API.
	Web WebSettings `toml:"web"`

	// Notify configures state transition notifications.
	Notify NotifySettings `toml:"notify"`

	// Debug enables verbose component logging.
	Debug bool `toml:"debug"`
}

// PatternSettings mirrors activity.RawPatterns in TOML. Override fields
// replace the built-in defaults when present; Extra* fields append.
type PatternSettings struct {
	BusyTitleGlyphs []string `toml:"busy_title_glyphs"`
	DoneTitleGlyphs []string `toml:"done_title_glyphs"`
	BusyPatterns    []string `toml:"busy_patterns"`
	CompletionVerbs []string `toml:"completion_verbs"`
	PromptPatterns  []string `toml:"prompt_patterns"`
	SpinnerChars    []string `toml:"spinner_chars"`

	ExtraBusyPatterns    []string `toml:"extra_busy_patterns"`
	ExtraCompletionVerbs []string `toml:"extra_completion_verbs"`
	ExtraPromptPatterns  []string `toml:"extra_prompt_patterns"`
}

// CorrLogSettings configures the correlation log sink.
type CorrLogSettings struct {
	// Path of the active JSONL file. Defaults under the monitor directory.
	Path string `toml:"path"`
	// Retention is how many rotated siblings to keep.
	Retention int `toml:"retention"`
	// DebugAppends logs every append at debug level.
	DebugAppends bool `toml:"debug_appends"`
}

// WebSettings configures the HTTP API server.
type WebSettings struct {
	// Addr to listen on. Empty disables the server.
	Addr string `toml:"addr"`
	// RateLimitPerSecond bounds request-driven operations. Zero means no limit.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
}

// NotifySettings configures transition notifications.
type NotifySettings struct {
	// Enabled turns notification recording on.
	Enabled bool `toml:"enabled"`
	// Command runs for each notified transition, receiving JSON on stdin.
	Command string `toml:"command"`
	// DedupeWindowSeconds suppresses repeat notifications for the same
	// session and state inside the window.
	DedupeWindowSeconds int `toml:"dedupe_window_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:               backend.KindTmux,
		Tool:                  "claude",
		PollIntervalSeconds:   2,
		StallThresholdSeconds: 600,
		Log: CorrLogSettings{
			Retention: 2,
		},
		Web: WebSettings{
			Addr:               "127.0.0.1:7711",
			RateLimitPerSecond: 5,
		},
		Notify: NotifySettings{
			DedupeWindowSeconds: 30,
		},
	}
}

// Dir returns the monitor's state directory, created on first use.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".claude-monitor")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config at path, falling back to defaults when the file
// does not exist. A parse error returns defaults alongside the error so the
// caller keeps running.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Default(), fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Backend == "" {
		c.Backend = backend.KindTmux
	}
	if c.Tool == "" {
		c.Tool = "claude"
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 2
	}
	if c.Log.Retention < 0 {
		c.Log.Retention = 0
	}
}

// PollInterval returns the scan period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StallThreshold returns the stall detection bound, zero when disabled.
func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.StallThresholdSeconds) * time.Second
}

// LogPath resolves the correlation log path, defaulting into the monitor
// directory.
func (c *Config) LogPath() (string, error) {
	if c.Log.Path != "" {
		return c.Log.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "correlation.jsonl"), nil
}

// ResolvePatterns merges built-in defaults for the configured tool with the
// overrides and extras from the config file, then compiles them.
func (c *Config) ResolvePatterns() (*activity.ResolvedPatterns, error) {
	defaults := activity.DefaultRawPatterns(c.Tool)

	overrides := &activity.RawPatterns{
		BusyTitleGlyphs: c.Patterns.BusyTitleGlyphs,
		DoneTitleGlyphs: c.Patterns.DoneTitleGlyphs,
		BusyPatterns:    c.Patterns.BusyPatterns,
		CompletionVerbs: c.Patterns.CompletionVerbs,
		PromptPatterns:  c.Patterns.PromptPatterns,
		SpinnerChars:    c.Patterns.SpinnerChars,
	}
	extras := &activity.RawPatterns{
		BusyPatterns:    c.Patterns.ExtraBusyPatterns,
		CompletionVerbs: c.Patterns.ExtraCompletionVerbs,
		PromptPatterns:  c.Patterns.ExtraPromptPatterns,
	}

	merged := activity.Merge(defaults, overrides, extras)
	return activity.Compile(merged)
}
