package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
)

// BuildVersion is overridden by release tooling (e.g. goreleaser).
var BuildVersion = "0.1.0-dev"

// GlobalOptions are flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
}

func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "smart-audit",
		Short:         "Smart contract audit orchestrator",
		Long:          "smart-audit runs static and AI analyzers against Solidity sources, tracks scan progress and keeps a history with risk analytics.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "Config file path (env SMART_AUDIT_CONFIG)")
	cmd.PersistentFlags().BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")

	cmd.AddCommand(
		newServeCommand(opts),
		newScanCommand(opts),
		newWatchCommand(opts),
		newStatusCommand(opts),
		newReportCommand(opts),
		newHistoryCommand(opts),
		newAnalyticsCommand(opts),
		newBaselineCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)

	return cmd
}

func defaultConfigPath() string {
	if v := os.Getenv("SMART_AUDIT_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath
}
