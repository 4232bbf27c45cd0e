package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// ModelsDir is the directory holding installed .gguf files.
	// Empty means <baseDir>/models (resolved by Load).
	ModelsDir string `json:"models_dir,omitempty"`

	// DefaultModel is the filename loaded on startup when a backend command is configured.
	DefaultModel string `json:"default_model,omitempty"`

	Backend   BackendConfig   `json:"backend"`
	Sampling  SamplingConfig  `json:"sampling"`
	Explore   ExploreConfig   `json:"explore"`
	Hub       HubConfig       `json:"hub"`
	Downloads DownloadsConfig `json:"downloads"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type names to disable entirely.
	// Known types: "sampler", "model", "download".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// BackendConfig describes the llama.cpp server used for inference.
type BackendConfig struct {
	// URL is the base URL of a llama.cpp server (OpenAI-compatible completions endpoint).
	URL string `json:"url,omitempty"`

	// Command launches the server for a given model (e.g. "llama-server").
	// When empty, sift talks to an externally managed server and model switching is unavailable.
	Command string `json:"command,omitempty"`

	// Args are extra arguments appended after "-m <model> --port <port>".
	Args []string `json:"args,omitempty"`

	StartupTimeoutSeconds int `json:"startup_timeout_seconds,omitempty"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`
}

// SamplingConfig holds default sampling controls applied when a request omits them.
type SamplingConfig struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// ExploreConfig bounds beam exploration requests.
type ExploreConfig struct {
	MaxPaths int `json:"max_paths,omitempty"`
	MaxDepth int `json:"max_depth,omitempty"`

	// Seed fixes the start-candidate selection. 0 means seed from the clock.
	Seed int64 `json:"seed,omitempty"`
}

// HubConfig configures the remote model repository.
type HubConfig struct {
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`
}

// DownloadsConfig tunes background model downloads.
type DownloadsConfig struct {
	MaxConcurrent        int `json:"max_concurrent,omitempty"`
	ProgressIntervalMS   int `json:"progress_interval_ms,omitempty"`
	RetentionHours       int `json:"retention_hours,omitempty"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:                   "http://127.0.0.1:8081",
			StartupTimeoutSeconds: 60,
			RequestTimeoutSeconds: 120,
		},
		Sampling: SamplingConfig{
			Temperature:   0.8,
			TopK:          40,
			TopP:          0.95,
			RepeatPenalty: 1.0,
		},
		Explore: ExploreConfig{
			MaxPaths: 10,
			MaxDepth: 32,
		},
		Hub: HubConfig{
			URL: "https://huggingface.co",
		},
		Downloads: DownloadsConfig{
			MaxConcurrent:        2,
			ProgressIntervalMS:   250,
			RetentionHours:       24,
			SweepIntervalMinutes: 30,
		},
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.sift.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = filepath.Join(baseDir, "models")
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
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
	result := &Config{}

	result.ModelsDir = pickString(overlay.ModelsDir, base.ModelsDir)
	result.DefaultModel = pickString(overlay.DefaultModel, base.DefaultModel)

	result.Backend.URL = pickString(overlay.Backend.URL, base.Backend.URL)
	result.Backend.Command = pickString(overlay.Backend.Command, base.Backend.Command)
	result.Backend.StartupTimeoutSeconds = pickInt(overlay.Backend.StartupTimeoutSeconds, base.Backend.StartupTimeoutSeconds)
	result.Backend.RequestTimeoutSeconds = pickInt(overlay.Backend.RequestTimeoutSeconds, base.Backend.RequestTimeoutSeconds)
	// Args are positional, so the overlay replaces rather than merges.
	result.Backend.Args = base.Backend.Args
	if len(overlay.Backend.Args) > 0 {
		result.Backend.Args = overlay.Backend.Args
	}

	result.Sampling.Temperature = pickFloat(overlay.Sampling.Temperature, base.Sampling.Temperature)
	result.Sampling.TopK = pickInt(overlay.Sampling.TopK, base.Sampling.TopK)
	result.Sampling.TopP = pickFloat(overlay.Sampling.TopP, base.Sampling.TopP)
	result.Sampling.RepeatPenalty = pickFloat(overlay.Sampling.RepeatPenalty, base.Sampling.RepeatPenalty)

	result.Explore.MaxPaths = pickInt(overlay.Explore.MaxPaths, base.Explore.MaxPaths)
	result.Explore.MaxDepth = pickInt(overlay.Explore.MaxDepth, base.Explore.MaxDepth)
	result.Explore.Seed = overlay.Explore.Seed
	if result.Explore.Seed == 0 {
		result.Explore.Seed = base.Explore.Seed
	}

	result.Hub.URL = pickString(overlay.Hub.URL, base.Hub.URL)
	result.Hub.Token = pickString(overlay.Hub.Token, base.Hub.Token)

	result.Downloads.MaxConcurrent = pickInt(overlay.Downloads.MaxConcurrent, base.Downloads.MaxConcurrent)
	result.Downloads.ProgressIntervalMS = pickInt(overlay.Downloads.ProgressIntervalMS, base.Downloads.ProgressIntervalMS)
	result.Downloads.RetentionHours = pickInt(overlay.Downloads.RetentionHours, base.Downloads.RetentionHours)
	result.Downloads.SweepIntervalMinutes = pickInt(overlay.Downloads.SweepIntervalMinutes, base.Downloads.SweepIntervalMinutes)

	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// ProgressInterval returns the download progress throttle as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Downloads.ProgressIntervalMS) * time.Millisecond
}

// SweepInterval returns how often finished downloads are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Downloads.SweepIntervalMinutes) * time.Minute
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
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
