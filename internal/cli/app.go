package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/CodeKage25/smart-audit-assistant/internal/analytics"
	"github.com/CodeKage25/smart-audit-assistant/internal/analyzer"
	"github.com/CodeKage25/smart-audit-assistant/internal/baseline"
	"github.com/CodeKage25/smart-audit-assistant/internal/config"
	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/orchestrator"
	"github.com/CodeKage25/smart-audit-assistant/internal/scan"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
)

// app is the fully wired service behind every command.
type app struct {
	cfg      config.Config
	log      *pterm.Logger
	backend  *store.Backend
	resolver *scan.Resolver
	orch     *orchestrator.Orchestrator
}

func (a *app) Close() error {
	return a.backend.Close()
}

func loadConfig(opts *GlobalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, &ExitError{Code: 2, Message: fmt.Sprintf("load config: %v", err)}
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &ExitError{Code: 2, Message: fmt.Sprintf("invalid config: %v", err)}
	}
	return cfg, nil
}

// newApp loads the config and wires stores, analyzer and orchestrator.
// Logs go to logOut.
func newApp(ctx context.Context, opts *GlobalOptions, logOut io.Writer, override func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, &ExitError{Code: 2, Message: fmt.Sprintf("invalid config: %v", err)}
		}
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}

	resolver, err := scan.NewResolver(cfg.Server.TrustedRoot, cfg.Scan.Extension, cfg.Scan.ExcludePaths)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}

	backend, err := store.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("open storage: %v", err)}
	}

	invoker := analyzer.New(analyzer.Options{
		StaticCommand: cfg.Analyzer.StaticCommand,
		AICommand:     cfg.Analyzer.AICommand,
		WorkDir:       cfg.Analyzer.WorkDir,
		Retries:       cfg.Analyzer.Retries,
		Timeouts:      cfg,
		Logger:        log,
	})

	var suppressor orchestrator.Suppressor
	if cfg.Scan.Baseline != "" {
		suppressor = baseline.Path(cfg.Scan.Baseline)
	}

	floor, _ := severity.Normalize(cfg.Scan.DefaultSeverity)
	orch := orchestrator.New(orchestrator.Options{
		Resolver: resolver,
		Analyzer: invoker,
		Baseline: suppressor,
		Status:   backend.Status,
		Reports:  backend.Reports,
		Ledger:   backend.Ledger,
		Analytics: analytics.New(analytics.Options{
			Ledger:    backend.Ledger,
			Reports:   backend.Reports,
			Window:    cfg.Storage.AnalyticsWindow,
			TrendDays: cfg.Storage.TrendDays,
			TopN:      cfg.Storage.TopVulnerabilities,
			Logger:    log,
		}),
		Defaults: orchestrator.Defaults{
			IncludeAI: cfg.Scan.IncludeAI,
			Severity:  floor,
			Pipeline:  model.Pipeline(cfg.Scan.DefaultPipeline),
			Tools:     cfg.Scan.DefaultTools,
		},
		DedupeInflight: cfg.Scan.DedupeInflight,
		PruneOrphans:   cfg.Storage.PruneOrphans,
		Logger:         log,
	})

	return &app{cfg: cfg, log: log, backend: backend, resolver: resolver, orch: orch}, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// configureColor turns off pterm styling when output is not a terminal.
func configureColor(w io.Writer) {
	if !isTerminal(w) {
		pterm.DisableColor()
	}
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
