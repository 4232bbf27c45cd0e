package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.Sampling.TopK != def.Sampling.TopK {
		t.Fatalf("Sampling.TopK = %d, want %d", cfg.Sampling.TopK, def.Sampling.TopK)
	}
	if cfg.Backend.URL != def.Backend.URL {
		t.Fatalf("Backend.URL = %q, want %q", cfg.Backend.URL, def.Backend.URL)
	}
	if want := filepath.Join(tmpDir, "models"); cfg.ModelsDir != want {
		t.Fatalf("ModelsDir = %q, want %q", cfg.ModelsDir, want)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := `{
		"models_dir": "/srv/models",
		"sampling": {"temperature": 0.5, "top_k": 10},
		"downloads": {"max_concurrent": 4}
	}`
	if err := os.WriteFile(configPath, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ModelsDir != "/srv/models" {
		t.Errorf("ModelsDir = %q, want %q", cfg.ModelsDir, "/srv/models")
	}
	if cfg.Sampling.Temperature != 0.5 {
		t.Errorf("Sampling.Temperature = %v, want 0.5", cfg.Sampling.Temperature)
	}
	if cfg.Sampling.TopK != 10 {
		t.Errorf("Sampling.TopK = %d, want 10", cfg.Sampling.TopK)
	}
	// Unset fields keep their defaults
	if cfg.Sampling.TopP != DefaultConfig().Sampling.TopP {
		t.Errorf("Sampling.TopP = %v, want default %v", cfg.Sampling.TopP, DefaultConfig().Sampling.TopP)
	}
	if cfg.Downloads.MaxConcurrent != 4 {
		t.Errorf("Downloads.MaxConcurrent = %d, want 4", cfg.Downloads.MaxConcurrent)
	}
	if cfg.Downloads.RetentionHours != 24 {
		t.Errorf("Downloads.RetentionHours = %d, want 24", cfg.Downloads.RetentionHours)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := `{"disabled_tools": ["model_switch", " download_cleanup ", "model_switch"]}`
	if err := os.WriteFile(configPath, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools = %v, want 2 entries", cfg.DisabledTools)
	}
	if cfg.DisabledTools[0] != "model_switch" || cfg.DisabledTools[1] != "download_cleanup" {
		t.Errorf("DisabledTools = %v", cfg.DisabledTools)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{Backend: BackendConfig{URL: "http://a", Command: "llama-server"}}
	overlay := &Config{Backend: BackendConfig{URL: "http://b"}}

	result := Merge(base, overlay)
	if result.Backend.URL != "http://b" {
		t.Errorf("Backend.URL = %q, want %q", result.Backend.URL, "http://b")
	}
	if result.Backend.Command != "llama-server" {
		t.Errorf("Backend.Command = %q, want %q", result.Backend.Command, "llama-server")
	}
}

func TestMerge_ArgsReplaced(t *testing.T) {
	base := &Config{Backend: BackendConfig{Args: []string{"-c", "2048"}}}
	overlay := &Config{Backend: BackendConfig{Args: []string{"-ngl", "99"}}}

	result := Merge(base, overlay)
	if len(result.Backend.Args) != 2 || result.Backend.Args[0] != "-ngl" {
		t.Errorf("Backend.Args = %v, want overlay args", result.Backend.Args)
	}

	result = Merge(base, &Config{})
	if len(result.Backend.Args) != 2 || result.Backend.Args[0] != "-c" {
		t.Errorf("Backend.Args = %v, want base args", result.Backend.Args)
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTypes: []string{"download", "model"}}
	overlay := &Config{DisabledTypes: []string{"model", "sampler", ""}}

	result := Merge(base, overlay)
	want := []string{"download", "model", "sampler"}
	if len(result.DisabledTypes) != len(want) {
		t.Fatalf("DisabledTypes = %v, want %v", result.DisabledTypes, want)
	}
	for i := range want {
		if result.DisabledTypes[i] != want[i] {
			t.Errorf("DisabledTypes[%d] = %q, want %q", i, result.DisabledTypes[i], want[i])
		}
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ProgressInterval(); got != 250*time.Millisecond {
		t.Errorf("ProgressInterval() = %v, want 250ms", got)
	}
	if got := cfg.SweepInterval(); got != 30*time.Minute {
		t.Errorf("SweepInterval() = %v, want 30m", got)
	}
}
