package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/orchestrator"
	"github.com/CodeKage25/smart-audit-assistant/internal/output"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
	"github.com/CodeKage25/smart-audit-assistant/internal/ui"
)

type scanOptions struct {
	Format      string
	OutputPath  string
	FailOn      string
	NoAI        bool
	Pipeline    string
	Severity    string
	Tools       []string
	TrustedRoot string
	Baseline    string
}

func newScanCommand(global *GlobalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a contract file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "table", "Output format: table|human|json|sarif")
	cmd.Flags().StringVar(&opts.OutputPath, "output", "", "Output file path")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "Exit 1 when a finding is at or above this severity")
	cmd.Flags().BoolVar(&opts.NoAI, "no-ai", false, "Skip the AI analysis pass")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Pipeline profile: fast|thorough|ai-enhanced (default from config)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "Minimum reported severity (default from config)")
	cmd.Flags().StringSliceVar(&opts.Tools, "tools", nil, "Static analysis tools, comma separated")
	cmd.Flags().StringVar(&opts.TrustedRoot, "root", "", "Trusted root directory (default: the target's directory)")
	cmd.Flags().StringVar(&opts.Baseline, "baseline", "", "Baseline of accepted findings (default from config)")

	return cmd
}

func runScan(cmd *cobra.Command, global *GlobalOptions, opts *scanOptions, target string) error {
	format := strings.ToLower(opts.Format)
	switch format {
	case "table", "human", "json", "sarif":
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unsupported output format: %s", opts.Format)}
	}

	var failOn severity.Level
	if opts.FailOn != "" {
		level, err := severity.Normalize(opts.FailOn)
		if err != nil {
			return &ExitError{Code: 2, Message: fmt.Sprintf("--fail-on: %v", err)}
		}
		failOn = level
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	root := opts.TrustedRoot
	if root == "" {
		root = abs
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			root = filepath.Dir(abs)
		}
	}

	a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), func(c *config.Config) {
		c.Server.TrustedRoot = root
		if opts.Baseline != "" {
			c.Scan.Baseline = opts.Baseline
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()
	configureColor(cmd.OutOrStdout())

	req := orchestrator.Request{
		ContractPath: abs,
		Severity:     opts.Severity,
		Tools:        splitList(opts.Tools),
		Pipeline:     opts.Pipeline,
	}
	if opts.NoAI {
		noAI := false
		req.IncludeAI = &noAI
	}

	interactive := isTerminal(cmd.ErrOrStderr()) && opts.OutputPath == ""
	var report model.ScanReport
	if interactive {
		spinner := ui.StartSpinner(cmd.ErrOrStderr(), "Scanning "+target)
		report, err = a.orch.StartScan(cmd.Context(), req)
		if err != nil {
			spinner.Fail(err.Error())
		} else {
			spinner.Success("Scan completed")
		}
	} else {
		report, err = a.orch.StartScan(cmd.Context(), req)
	}
	if err != nil {
		var scanErr *orchestrator.ScanError
		if errors.As(err, &scanErr) {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}

	if err := writeReport(cmd.OutOrStdout(), opts.OutputPath, format, report); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if opts.OutputPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "report written: %s\n", opts.OutputPath)
	}

	if failOn != "" {
		findings := report.Findings()
		levels := make([]severity.Level, 0, len(findings))
		for _, f := range findings {
			levels = append(levels, f.Severity)
		}
		if worst := severity.Max(levels...); severity.MeetsOrAbove(worst, failOn) {
			return &ExitError{Code: 1, Message: fmt.Sprintf("%s finding detected, at or above --fail-on %s", worst, failOn)}
		}
	}
	return nil
}

// writeReport renders report to path, or to out when path is empty.
func writeReport(out io.Writer, path string, format string, report model.ScanReport) error {
	if path == "" {
		if format == "table" {
			ui.PrintReport(out, report)
			return nil
		}
		return output.Write(report, format, out)
	}

	if format == "table" {
		format = "human"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := output.Write(report, format, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
