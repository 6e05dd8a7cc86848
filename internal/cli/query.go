package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
	"github.com/CodeKage25/smart-audit-assistant/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCommand(global *GlobalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show the status of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			configureColor(cmd.OutOrStdout())

			st, err := a.orch.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			ui.PrintStatus(cmd.OutOrStdout(), args[0], st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newReportCommand(global *GlobalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report [scan-id]",
		Short: "Show a cached report (the latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			configureColor(cmd.OutOrStdout())

			if len(args) == 0 {
				latest, err := a.orch.Latest(cmd.Context())
				if err != nil {
					return &ExitError{Code: 1, Message: err.Error()}
				}
				if latest == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no reports yet")
					return nil
				}
				return renderReport(cmd.OutOrStdout(), format, *latest)
			}

			report, err := a.orch.GetReport(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &ExitError{Code: 1, Message: fmt.Sprintf("report not found: %s", args[0])}
				}
				return &ExitError{Code: 1, Message: err.Error()}
			}
			return renderReport(cmd.OutOrStdout(), format, report)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|human|json|sarif")
	return cmd
}

func renderReport(w io.Writer, format string, report model.ScanReport) error {
	if err := writeReport(w, "", format, report); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return nil
}

func newHistoryCommand(global *GlobalOptions) *cobra.Command {
	var asJSON bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			configureColor(cmd.OutOrStdout())

			entries, err := a.orch.History(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			ui.PrintHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (0 = all)")
	return cmd
}

func newAnalyticsCommand(global *GlobalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show severity distribution, trends and top vulnerabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			configureColor(cmd.OutOrStdout())

			snap, err := a.orch.Analytics(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			ui.PrintAnalytics(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
