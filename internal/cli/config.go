package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
)

func newConfigCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(
		newConfigInitCommand(global),
		newConfigShowCommand(global),
		newConfigCheckCommand(global),
	)

	return cmd
}

func newConfigInitCommand(global *GlobalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if path == "" {
				path = config.DefaultPath
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "config already exists: %s\n", path)
				return nil
			}

			if err := os.WriteFile(path, []byte(config.Template), 0o644); err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "config created: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigCheckCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(global); err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("config check failed: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config valid: %s\n", global.ConfigPath)
			return nil
		},
	}
}
