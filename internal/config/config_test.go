package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "tmux", cfg.Backend)
	assert.Equal(t, "claude", cfg.Tool)
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 2, cfg.Log.Retention)
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "iterm2"
tool = "gemini"
poll_interval_seconds = 5
stall_threshold_seconds = 120

[patterns]
extra_completion_verbs = ["Fertig"]

[log]
path = "/tmp/corr.jsonl"
retention = 4

[web]
addr = ":9000"
rate_limit_per_second = 1.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "iterm2", cfg.Backend)
	assert.Equal(t, "gemini", cfg.Tool)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 2*time.Minute, cfg.StallThreshold())
	assert.Equal(t, 4, cfg.Log.Retention)
	assert.Equal(t, ":9000", cfg.Web.Addr)
	assert.InDelta(t, 1.5, cfg.Web.RateLimitPerSecond, 1e-9)

	logPath, err := cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/corr.jsonl", logPath)
}

func TestLoad_ParseErrorFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = [broken"), 0o644))

	cfg, err := Load(path)
	require.Error(t, err)
	require.NotNil(t, cfg, "caller keeps running on defaults")
	assert.Equal(t, "tmux", cfg.Backend)
}

func TestResolvePatterns(t *testing.T) {
	cfg := Default()
	cfg.Patterns.ExtraCompletionVerbs = []string{"Fertig"}
	cfg.Patterns.PromptPatterns = []string{"only this"}

	rp, err := cfg.ResolvePatterns()
	require.NoError(t, err)
	assert.Contains(t, rp.DoneStrings, "Fertig")
	assert.Contains(t, rp.DoneStrings, "Done", "extras append to defaults")
	assert.Equal(t, []string{"only this"}, rp.PromptStrings, "override replaces defaults")
	assert.NotEmpty(t, rp.BusyTitleGlyphs)
}

func TestNormalize(t *testing.T) {
	cfg := &Config{PollIntervalSeconds: -1, Log: CorrLogSettings{Retention: -5}}
	cfg.normalize()
	assert.Equal(t, "tmux", cfg.Backend)
	assert.Equal(t, "claude", cfg.Tool)
	assert.Equal(t, 2, cfg.PollIntervalSeconds)
	assert.Equal(t, 0, cfg.Log.Retention)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`tool = "claude"`), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`tool = "gemini"`), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "gemini", cfg.Tool)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(500 * time.Millisecond):
	}
}
