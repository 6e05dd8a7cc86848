package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/baseline"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
	"github.com/CodeKage25/smart-audit-assistant/internal/ui"
)

func newBaselineCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage findings accepted as known risk",
	}

	cmd.AddCommand(
		newBaselineAcceptCommand(global),
		newBaselineListCommand(global),
	)

	return cmd
}

func newBaselineAcceptCommand(global *GlobalOptions) *cobra.Command {
	var reason, by, minSeverity string

	cmd := &cobra.Command{
		Use:   "accept <scan-id>",
		Short: "Accept the findings of a cached report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var floor severity.Level
			if minSeverity != "" {
				level, err := severity.Normalize(minSeverity)
				if err != nil {
					return &ExitError{Code: 2, Message: fmt.Sprintf("--severity: %v", err)}
				}
				floor = level
			}

			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			path := a.cfg.Scan.Baseline
			if path == "" {
				return &ExitError{Code: 2, Message: "scan.baseline is not configured"}
			}

			report, err := a.orch.GetReport(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &ExitError{Code: 1, Message: fmt.Sprintf("report not found: %s", args[0])}
				}
				return &ExitError{Code: 1, Message: err.Error()}
			}

			findings := report.Findings()
			if floor != "" {
				selected := make([]model.Finding, 0, len(findings))
				for _, f := range findings {
					if severity.MeetsOrAbove(f.Severity, floor) {
						selected = append(selected, f)
					}
				}
				findings = selected
			}

			current, err := baseline.Load(path)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			updated := baseline.Accept(current, report.ID, findings, reason, by, time.Now())
			if err := baseline.Save(path, updated); err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "accepted %d findings into %s\n", len(findings), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the findings are accepted")
	cmd.Flags().StringVar(&by, "by", os.Getenv("USER"), "Who accepted the findings")
	cmd.Flags().StringVar(&minSeverity, "severity", "", "Only accept findings at or above this severity")
	return cmd
}

func newBaselineListCommand(global *GlobalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accepted findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			b, err := baseline.Load(cfg.Scan.Baseline)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), b)
			}
			configureColor(cmd.OutOrStdout())
			ui.PrintBaseline(cmd.OutOrStdout(), b)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
