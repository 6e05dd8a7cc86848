package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.HistoryLimit != 100 || cfg.Storage.AnalyticsWindow != 50 || cfg.Storage.TrendDays != 30 {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Scan.DefaultSeverity != "info" {
		t.Fatalf("default floor should keep informational findings, got %q", cfg.Scan.DefaultSeverity)
	}
	if cfg.Analyzer.Retries != 2 {
		t.Fatalf("expected 2 static retries by default, got %d", cfg.Analyzer.Retries)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `version: "1"
scan:
  default_pipeline: fast
  include_ai: false
analyzer:
  timeouts:
    fast:
      static: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scan.DefaultPipeline != "fast" || cfg.Scan.IncludeAI {
		t.Fatalf("file values not applied: %+v", cfg.Scan)
	}
	if cfg.Scan.Extension != ".sol" {
		t.Fatalf("expected default extension, got %q", cfg.Scan.Extension)
	}
	if got := cfg.StaticTimeout(model.PipelineFast); got != 30*time.Second {
		t.Fatalf("static timeout = %s, want 30s", got)
	}
	if got := cfg.AITimeout(model.PipelineFast); got != 90*time.Second {
		t.Fatalf("ai timeout = %s, want default 90s", got)
	}
	if got := cfg.StaticTimeout(model.PipelineThorough); got != 180*time.Second {
		t.Fatalf("thorough static timeout = %s, want 180s", got)
	}
}

func TestValidateRejectsTimeoutAboveProfileBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analyzer.Timeouts["fast"] = PipelineTimeout{Static: 2 * time.Minute, AI: time.Minute}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "fast.static") {
		t.Fatalf("expected fast.static bound error, got %v", err)
	}
}

func TestValidateHistoryBounds(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		window  int
		wantErr string
	}{
		{"default", 100, 50, ""},
		{"smaller ledger", 20, 20, ""},
		{"above cap", 500, 50, "storage.history_limit"},
		{"zero", 0, 0, "storage.history_limit"},
		{"window beyond ledger", 20, 50, "storage.analytics_window"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.HistoryLimit = tc.limit
			cfg.Storage.AnalyticsWindow = tc.window
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q error, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected dsn error")
	}
	cfg.Storage.PostgresDSN = "postgres://localhost/audit"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Storage.ReportCache.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestTemplateParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("template should validate: %v", err)
	}
}
