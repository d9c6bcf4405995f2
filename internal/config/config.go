// Package config loads llmdoc configuration from the environment and an
// optional llmdoc.json or llmdoc.yaml file in the working directory.
//
// Resolution order: environment variables override the config file, which
// overrides built-in defaults. Invalid integer values are silently ignored.
package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values and clamping bounds.
const (
	DefaultDBPath               = "~/.llmdoc/index.db"
	DefaultRefreshIntervalHours = 6
	DefaultMaxConcurrent        = 5
	DefaultChunkSize            = 500
	DefaultChunkOverlap         = 100

	MinRefreshIntervalHours = 1
	MaxRefreshIntervalHours = 168 // one week
	MinConcurrent           = 1
	MaxConcurrent           = 20
)

// Source is a configured documentation endpoint: either an llms.txt manifest
// or a single document URL. Name is an opaque identifier used for filtering.
type Source struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// ParseSource parses a source string in "name:url" or bare "url" form.
// The name, when present, is everything before the last ':' that precedes
// the URL scheme separator. Bare URLs derive a name from the host with '.'
// and '-' replaced by '_'.
func ParseSource(s string) Source {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "://"); idx >= 0 {
		prefix := s[:idx]
		if colon := strings.LastIndex(prefix, ":"); colon >= 0 {
			return Source{Name: prefix[:colon], URL: s[colon+1:]}
		}
		name := s
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			name = u.Host
		}
		return Source{Name: sanitizeName(name), URL: s}
	}

	// No scheme: local path or malformed URL. Use the path stem as the name.
	stem := filepath.Base(s)
	if dot := strings.LastIndex(stem, "."); dot > 0 {
		stem = stem[:dot]
	}
	return Source{Name: sanitizeName(stem), URL: s}
}

func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	return strings.ReplaceAll(s, "-", "_")
}

// Config holds the llmdoc server configuration.
type Config struct {
	Sources              []Source
	DBPath               string
	RefreshIntervalHours int
	MaxConcurrentFetches int
	SkipStartupRefresh   bool
	EnableFTS            bool
	ChunkSize            int
	ChunkOverlap         int
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DBPath:               DefaultDBPath,
		RefreshIntervalHours: DefaultRefreshIntervalHours,
		MaxConcurrentFetches: DefaultMaxConcurrent,
		EnableFTS:            true,
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
	}
}

// LockPath returns the path of the cross-process refresh lock file.
func (c *Config) LockPath() string {
	return c.DBPath + ".lock"
}

// TempDBPath returns the path of the shadow database written during refresh.
func (c *Config) TempDBPath() string {
	return c.DBPath + ".tmp"
}

// normalize expands the database path and clamps numeric values into range.
func (c *Config) normalize() {
	c.DBPath = expandHome(c.DBPath)
	c.RefreshIntervalHours = clamp(c.RefreshIntervalHours, MinRefreshIntervalHours, MaxRefreshIntervalHours)
	c.MaxConcurrentFetches = clamp(c.MaxConcurrentFetches, MinConcurrent, MaxConcurrent)
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// fileConfig mirrors the llmdoc.json / llmdoc.yaml schema. Sources may be
// plain strings ("name:url" or "url") or {name, url} objects.
type fileConfig struct {
	Sources              []any   `json:"sources" yaml:"sources"`
	DBPath               *string `json:"db_path" yaml:"db_path"`
	RefreshIntervalHours *int    `json:"refresh_interval_hours" yaml:"refresh_interval_hours"`
	MaxConcurrentFetches *int    `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`
	SkipStartupRefresh   *bool   `json:"skip_startup_refresh" yaml:"skip_startup_refresh"`
	EnableFTS            *bool   `json:"enable_fts" yaml:"enable_fts"`
}

// Load resolves configuration from environment variables, the config file,
// and defaults, in that priority order.
func Load() *Config {
	cfg := NewConfig()

	fc := readFileConfig()
	if fc != nil {
		applyFileConfig(cfg, fc)
	}

	if v := os.Getenv("LLMDOC_SOURCES"); v != "" {
		var sources []Source
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, ParseSource(s))
			}
		}
		if len(sources) > 0 {
			cfg.Sources = sources
		}
	}
	if v := os.Getenv("LLMDOC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LLMDOC_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshIntervalHours = n
		}
	}
	if v := os.Getenv("LLMDOC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentFetches = n
		}
	}
	if v := os.Getenv("LLMDOC_SKIP_STARTUP_REFRESH"); v != "" {
		cfg.SkipStartupRefresh = parseBool(v)
	}

	cfg.normalize()
	return cfg
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// readFileConfig reads llmdoc.json, falling back to llmdoc.yaml.
// Unreadable or malformed files are ignored.
func readFileConfig() *fileConfig {
	if data, err := os.ReadFile("llmdoc.json"); err == nil {
		var fc fileConfig
		if err := json.Unmarshal(data, &fc); err == nil {
			return &fc
		}
		return nil
	}
	if data, err := os.ReadFile("llmdoc.yaml"); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err == nil {
			return &fc
		}
	}
	return nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	for _, raw := range fc.Sources {
		switch v := raw.(type) {
		case string:
			cfg.Sources = append(cfg.Sources, ParseSource(v))
		case map[string]any:
			name, _ := v["name"].(string)
			u, _ := v["url"].(string)
			if name != "" && u != "" {
				cfg.Sources = append(cfg.Sources, Source{Name: name, URL: u})
			}
		}
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.RefreshIntervalHours != nil {
		cfg.RefreshIntervalHours = *fc.RefreshIntervalHours
	}
	if fc.MaxConcurrentFetches != nil {
		cfg.MaxConcurrentFetches = *fc.MaxConcurrentFetches
	}
	if fc.SkipStartupRefresh != nil {
		cfg.SkipStartupRefresh = *fc.SkipStartupRefresh
	}
	if fc.EnableFTS != nil {
		cfg.EnableFTS = *fc.EnableFTS
	}
}
