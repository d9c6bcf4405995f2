package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource_NamedURL(t *testing.T) {
	src := ParseSource("demo:https://host.test/llms.txt")

	assert.Equal(t, "demo", src.Name)
	assert.Equal(t, "https://host.test/llms.txt", src.URL)
}

func TestParseSource_BareURL_DerivesNameFromHost(t *testing.T) {
	src := ParseSource("https://docs.fast-mcp.dev/llms.txt")

	assert.Equal(t, "docs_fast_mcp_dev", src.Name)
	assert.Equal(t, "https://docs.fast-mcp.dev/llms.txt", src.URL)
}

func TestParseSource_NameWithColon(t *testing.T) {
	// Only the last ':' before the scheme separates name from URL.
	src := ParseSource("my:docs:https://host.test/llms.txt")

	assert.Equal(t, "my:docs", src.Name)
	assert.Equal(t, "https://host.test/llms.txt", src.URL)
}

func TestParseSource_NoScheme_UsesPathStem(t *testing.T) {
	src := ParseSource("some/dir/guide.md")

	assert.Equal(t, "guide", src.Name)
	assert.Equal(t, "some/dir/guide.md", src.URL)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Empty(t, cfg.Sources)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, 6, cfg.RefreshIntervalHours)
	assert.Equal(t, 5, cfg.MaxConcurrentFetches)
	assert.False(t, cfg.SkipStartupRefresh)
	assert.True(t, cfg.EnableFTS)
}

func TestConfig_DerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.DBPath = "/tmp/llmdoc/index.db"

	assert.Equal(t, "/tmp/llmdoc/index.db.lock", cfg.LockPath())
	assert.Equal(t, "/tmp/llmdoc/index.db.tmp", cfg.TempDBPath())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLMDOC_SOURCES", "demo:https://host.test/llms.txt, https://other.test/llms.txt")
	t.Setenv("LLMDOC_DB_PATH", "/tmp/custom.db")
	t.Setenv("LLMDOC_REFRESH_INTERVAL", "12")
	t.Setenv("LLMDOC_MAX_CONCURRENT", "3")
	t.Setenv("LLMDOC_SKIP_STARTUP_REFRESH", "yes")

	cfg := Load()

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "demo", cfg.Sources[0].Name)
	assert.Equal(t, "other_test", cfg.Sources[1].Name)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, 12, cfg.RefreshIntervalHours)
	assert.Equal(t, 3, cfg.MaxConcurrentFetches)
	assert.True(t, cfg.SkipStartupRefresh)
}

func TestLoad_InvalidIntegersIgnored(t *testing.T) {
	t.Setenv("LLMDOC_REFRESH_INTERVAL", "not-a-number")
	t.Setenv("LLMDOC_MAX_CONCURRENT", "")

	cfg := Load()

	assert.Equal(t, DefaultRefreshIntervalHours, cfg.RefreshIntervalHours)
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrentFetches)
}

func TestLoad_ClampsOutOfRangeValues(t *testing.T) {
	t.Setenv("LLMDOC_REFRESH_INTERVAL", "1000")
	t.Setenv("LLMDOC_MAX_CONCURRENT", "0")

	cfg := Load()

	assert.Equal(t, MaxRefreshIntervalHours, cfg.RefreshIntervalHours)
	assert.Equal(t, MinConcurrent, cfg.MaxConcurrentFetches)
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"sources": [
			"demo:https://host.test/llms.txt",
			{"name": "other", "url": "https://other.test/doc.md"}
		],
		"db_path": "/tmp/file.db",
		"refresh_interval_hours": 24,
		"enable_fts": false
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llmdoc.json"), []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg := Load()

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "demo", cfg.Sources[0].Name)
	assert.Equal(t, "other", cfg.Sources[1].Name)
	assert.Equal(t, "https://other.test/doc.md", cfg.Sources[1].URL)
	assert.Equal(t, "/tmp/file.db", cfg.DBPath)
	assert.Equal(t, 24, cfg.RefreshIntervalHours)
	assert.False(t, cfg.EnableFTS)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"db_path": "/tmp/file.db"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llmdoc.json"), []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("LLMDOC_DB_PATH", "/tmp/env.db")

	cfg := Load()
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".llmdoc/index.db"), expandHome("~/.llmdoc/index.db"))
	assert.Equal(t, "/abs/path.db", expandHome("/abs/path.db"))
}
