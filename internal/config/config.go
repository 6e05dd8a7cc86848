package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

const DefaultPath = ".smart-audit/config.yaml"

// MaxHistoryLimit is the largest ledger the stores keep.
const MaxHistoryLimit = 100

// Upper bounds for analyzer timeouts per pipeline profile.
var (
	MaxStaticTimeout = map[model.Pipeline]time.Duration{
		model.PipelineFast:       60 * time.Second,
		model.PipelineThorough:   180 * time.Second,
		model.PipelineAIEnhanced: 180 * time.Second,
	}
	MaxAITimeout = map[model.Pipeline]time.Duration{
		model.PipelineFast:       90 * time.Second,
		model.PipelineThorough:   300 * time.Second,
		model.PipelineAIEnhanced: 300 * time.Second,
	}
)

type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Scan     ScanConfig     `yaml:"scan"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	TrustedRoot string `yaml:"trusted_root"`
	UploadsDir  string `yaml:"uploads_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type ScanConfig struct {
	Extension       string   `yaml:"extension"`
	ExcludePaths    []string `yaml:"exclude_paths"`
	DefaultPipeline string   `yaml:"default_pipeline"`
	DefaultSeverity string   `yaml:"default_severity"`
	DefaultTools    []string `yaml:"default_tools"`
	IncludeAI       bool     `yaml:"include_ai"`
	DedupeInflight  bool     `yaml:"dedupe_inflight"`
	Baseline        string   `yaml:"baseline"`
}

type AnalyzerConfig struct {
	StaticCommand []string                   `yaml:"static_command"`
	AICommand     []string                   `yaml:"ai_command"`
	WorkDir       string                     `yaml:"work_dir"`
	Retries       int                        `yaml:"retries"`
	Timeouts      map[string]PipelineTimeout `yaml:"timeouts"`
}

type PipelineTimeout struct {
	Static time.Duration `yaml:"static"`
	AI     time.Duration `yaml:"ai"`
}

type StorageConfig struct {
	Backend            string            `yaml:"backend"`
	DataDir            string            `yaml:"data_dir"`
	PostgresDSN        string            `yaml:"postgres_dsn"`
	HistoryLimit       int               `yaml:"history_limit"`
	AnalyticsWindow    int               `yaml:"analytics_window"`
	TrendDays          int               `yaml:"trend_days"`
	TopVulnerabilities int               `yaml:"top_vulnerabilities"`
	PruneOrphans       bool              `yaml:"prune_orphans"`
	ReportCache        ReportCacheConfig `yaml:"report_cache"`
}

type ReportCacheConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		Version: "1",
		Server: ServerConfig{
			Addr:        ":8080",
			TrustedRoot: ".",
			UploadsDir:  "uploads",
			MaxUploadMB: 10,
		},
		Scan: ScanConfig{
			Extension: ".sol",
			ExcludePaths: []string{
				"**/node_modules/**", "**/.git/**", "**/build/**", "**/dist/**", "**/out/**",
				"**/artifacts/**", "**/cache/**", "**/.venv/**", "**/venv/**",
			},
			DefaultPipeline: string(model.PipelineThorough),
			DefaultSeverity: string(severity.Info),
			DefaultTools:    []string{"slither"},
			IncludeAI:       true,
			Baseline:        ".smart-audit/baseline.json",
		},
		Analyzer: AnalyzerConfig{
			StaticCommand: []string{"spoon-audit-analyzer", "static"},
			AICommand:     []string{"spoon-audit-analyzer", "ai"},
			WorkDir:       ".smart-audit/work",
			Retries:       2,
			Timeouts:      defaultTimeouts(),
		},
		Storage: StorageConfig{
			Backend:            "file",
			DataDir:            ".smart-audit/data",
			HistoryLimit:       100,
			AnalyticsWindow:    50,
			TrendDays:          30,
			TopVulnerabilities: 10,
			PruneOrphans:       true,
		},
		Log: LogConfig{Level: "info", Format: "colorful"},
	}
}

func defaultTimeouts() map[string]PipelineTimeout {
	out := make(map[string]PipelineTimeout, len(MaxStaticTimeout))
	for p, static := range MaxStaticTimeout {
		out[string(p)] = PipelineTimeout{Static: static, AI: MaxAITimeout[p]}
	}
	return out
}

// Load reads the YAML config at path, filling unset fields with defaults.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.TrustedRoot == "" {
		c.Server.TrustedRoot = def.Server.TrustedRoot
	}
	if c.Server.UploadsDir == "" {
		c.Server.UploadsDir = def.Server.UploadsDir
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if c.Scan.Extension == "" {
		c.Scan.Extension = def.Scan.Extension
	}
	if len(c.Scan.ExcludePaths) == 0 {
		c.Scan.ExcludePaths = def.Scan.ExcludePaths
	}
	if c.Scan.DefaultPipeline == "" {
		c.Scan.DefaultPipeline = def.Scan.DefaultPipeline
	}
	if c.Scan.DefaultSeverity == "" {
		c.Scan.DefaultSeverity = def.Scan.DefaultSeverity
	}
	if len(c.Scan.DefaultTools) == 0 {
		c.Scan.DefaultTools = def.Scan.DefaultTools
	}
	if len(c.Analyzer.StaticCommand) == 0 {
		c.Analyzer.StaticCommand = def.Analyzer.StaticCommand
	}
	if len(c.Analyzer.AICommand) == 0 {
		c.Analyzer.AICommand = def.Analyzer.AICommand
	}
	if c.Analyzer.WorkDir == "" {
		c.Analyzer.WorkDir = def.Analyzer.WorkDir
	}
	if c.Analyzer.Retries < 0 {
		c.Analyzer.Retries = 0
	}
	if c.Analyzer.Timeouts == nil {
		c.Analyzer.Timeouts = map[string]PipelineTimeout{}
	}
	for name, t := range def.Analyzer.Timeouts {
		cur := c.Analyzer.Timeouts[name]
		if cur.Static <= 0 {
			cur.Static = t.Static
		}
		if cur.AI <= 0 {
			cur.AI = t.AI
		}
		c.Analyzer.Timeouts[name] = cur
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = def.Storage.DataDir
	}
	if c.Storage.HistoryLimit <= 0 {
		c.Storage.HistoryLimit = def.Storage.HistoryLimit
	}
	if c.Storage.AnalyticsWindow <= 0 {
		c.Storage.AnalyticsWindow = def.Storage.AnalyticsWindow
	}
	if c.Storage.TrendDays <= 0 {
		c.Storage.TrendDays = def.Storage.TrendDays
	}
	if c.Storage.TopVulnerabilities <= 0 {
		c.Storage.TopVulnerabilities = def.Storage.TopVulnerabilities
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func (c Config) Validate() error {
	if c.Version != "1" {
		return fmt.Errorf("unsupported config version: %s", c.Version)
	}
	if !strings.HasPrefix(c.Scan.Extension, ".") {
		return fmt.Errorf("scan.extension must start with a dot: %q", c.Scan.Extension)
	}
	if !model.Pipeline(c.Scan.DefaultPipeline).Valid() {
		return fmt.Errorf("invalid scan.default_pipeline: %s", c.Scan.DefaultPipeline)
	}
	if _, err := severity.Normalize(c.Scan.DefaultSeverity); err != nil {
		return fmt.Errorf("scan.default_severity: %w", err)
	}
	for name, t := range c.Analyzer.Timeouts {
		p := model.Pipeline(name)
		if !p.Valid() {
			return fmt.Errorf("analyzer.timeouts: unknown pipeline %q", name)
		}
		if t.Static > MaxStaticTimeout[p] {
			return fmt.Errorf("analyzer.timeouts.%s.static exceeds %s", name, MaxStaticTimeout[p])
		}
		if t.AI > MaxAITimeout[p] {
			return fmt.Errorf("analyzer.timeouts.%s.ai exceeds %s", name, MaxAITimeout[p])
		}
	}
	if c.Storage.HistoryLimit < 1 || c.Storage.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("storage.history_limit must be between 1 and %d: %d", MaxHistoryLimit, c.Storage.HistoryLimit)
	}
	if c.Storage.AnalyticsWindow > c.Storage.HistoryLimit {
		return fmt.Errorf("storage.analytics_window (%d) exceeds storage.history_limit (%d)", c.Storage.AnalyticsWindow, c.Storage.HistoryLimit)
	}
	switch c.Storage.Backend {
	case "file", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s", c.Storage.Backend)
	}
	switch c.Storage.ReportCache.Backend {
	case "":
	case "s3":
		if c.Storage.ReportCache.S3.Bucket == "" {
			return errors.New("storage.report_cache.s3.bucket is required for the s3 report cache")
		}
	default:
		return fmt.Errorf("invalid storage.report_cache.backend: %s", c.Storage.ReportCache.Backend)
	}
	switch c.Log.Format {
	case "colorful", "json":
	default:
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}
	return nil
}

// StaticTimeout returns the static-pass timeout for a pipeline profile.
func (c Config) StaticTimeout(p model.Pipeline) time.Duration {
	if t, ok := c.Analyzer.Timeouts[string(p)]; ok && t.Static > 0 {
		return t.Static
	}
	return MaxStaticTimeout[p]
}

// AITimeout returns the AI-pass timeout for a pipeline profile.
func (c Config) AITimeout(p model.Pipeline) time.Duration {
	if t, ok := c.Analyzer.Timeouts[string(p)]; ok && t.AI > 0 {
		return t.AI
	}
	return MaxAITimeout[p]
}

// Template is written by `config init`.
const Template = `version: "1"
server:
  addr: ":8080"
  trusted_root: "."
  uploads_dir: "uploads"
scan:
  extension: ".sol"
  default_pipeline: thorough
  default_severity: info
  default_tools:
    - slither
  include_ai: true
  dedupe_inflight: false
  baseline: .smart-audit/baseline.json
analyzer:
  static_command: ["spoon-audit-analyzer", "static"]
  ai_command: ["spoon-audit-analyzer", "ai"]
  work_dir: ".smart-audit/work"
  retries: 2
  timeouts:
    fast:
      static: 60s
      ai: 90s
    thorough:
      static: 180s
      ai: 300s
    ai-enhanced:
      static: 180s
      ai: 300s
storage:
  backend: file
  data_dir: ".smart-audit/data"
  history_limit: 100
  prune_orphans: true
log:
  level: info
  format: colorful
`
