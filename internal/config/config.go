package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/signals"
)

// Config holds application configuration.
type Config struct {
	// PrepWindowMinutes is how far ahead of a meeting start the prep view applies
	PrepWindowMinutes int `json:"prep_window_minutes"`

	// SynthesisWindowMinutes is how long after a meeting end the synthesis view applies
	SynthesisWindowMinutes int `json:"synthesis_window_minutes"`

	// AmbiguityBandMinutes is the distance from a window edge below which
	// confidence drops from HIGH to MEDIUM.
	AmbiguityBandMinutes int `json:"ambiguity_band_minutes"`

	// LookAheadHours bounds which future events can influence a decision.
	LookAheadHours int `json:"look_ahead_hours"`

	// LookBackHours bounds which past events can influence a decision.
	LookBackHours int `json:"look_back_hours"`

	// EvaluationIntervalSeconds is the period of meeting_boundary_change checks.
	EvaluationIntervalSeconds int `json:"evaluation_interval_seconds"`

	// CalendarTimeoutSeconds bounds a single calendar snapshot fetch.
	CalendarTimeoutSeconds int `json:"calendar_timeout_seconds"`

	// StaleAfterMinutes is the critical freshness threshold: calendar data
	// last synced longer ago than this is treated as unavailable.
	StaleAfterMinutes int `json:"stale_after_minutes"`

	// AllowedPaths is an allowlist of directories for event import and decision export.
	// Paths outside ~/.compass/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PrepWindowMinutes:         decision.DefaultPrepWindow,
		SynthesisWindowMinutes:    decision.DefaultSynthesisWindow,
		AmbiguityBandMinutes:      decision.DefaultAmbiguityBand,
		LookAheadHours:            24,
		LookBackHours:             24,
		EvaluationIntervalSeconds: 60,
		CalendarTimeoutSeconds:    5,
		StaleAfterMinutes:         180,
		LogLevel:                  "info",
	}
}

// Thresholds returns the decision thresholds.
func (c *Config) Thresholds() decision.Thresholds {
	return decision.Thresholds{
		PrepWindow:      float64(c.PrepWindowMinutes),
		SynthesisWindow: float64(c.SynthesisWindowMinutes),
		AmbiguityBand:   float64(c.AmbiguityBandMinutes),
	}
}

// SignalOptions returns the normalizer windows.
func (c *Config) SignalOptions() signals.Options {
	return signals.Options{
		LookAhead: time.Duration(c.LookAheadHours) * time.Hour,
		LookBack:  time.Duration(c.LookBackHours) * time.Hour,
	}
}

// EvaluationInterval returns the periodic trigger interval.
func (c *Config) EvaluationInterval() time.Duration {
	return time.Duration(c.EvaluationIntervalSeconds) * time.Second
}

// CalendarTimeout returns the per-fetch timeout.
func (c *Config) CalendarTimeout() time.Duration {
	return time.Duration(c.CalendarTimeoutSeconds) * time.Second
}

// StaleAfter returns the calendar freshness threshold.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.compass.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.compass) and repo (.compass) directories.
// Repo config is found by walking upward from startDir to find the nearest .compass/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .compass/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".compass", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		PrepWindowMinutes:         pickInt(overlay.PrepWindowMinutes, base.PrepWindowMinutes),
		SynthesisWindowMinutes:    pickInt(overlay.SynthesisWindowMinutes, base.SynthesisWindowMinutes),
		AmbiguityBandMinutes:      pickInt(overlay.AmbiguityBandMinutes, base.AmbiguityBandMinutes),
		LookAheadHours:            pickInt(overlay.LookAheadHours, base.LookAheadHours),
		LookBackHours:             pickInt(overlay.LookBackHours, base.LookBackHours),
		EvaluationIntervalSeconds: pickInt(overlay.EvaluationIntervalSeconds, base.EvaluationIntervalSeconds),
		CalendarTimeoutSeconds:    pickInt(overlay.CalendarTimeoutSeconds, base.CalendarTimeoutSeconds),
		StaleAfterMinutes:         pickInt(overlay.StaleAfterMinutes, base.StaleAfterMinutes),
		DBMaxOpenConns:            pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:            pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.LogLevel = strings.TrimSpace(overlay.LogLevel)
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// pickInt returns overlay if positive, else base.
func pickInt(overlay, base int) int {
	if overlay > 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
