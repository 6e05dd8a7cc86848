package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
	"github.com/CodeKage25/smart-audit-assistant/internal/orchestrator"
	"github.com/CodeKage25/smart-audit-assistant/internal/scan"
	"github.com/CodeKage25/smart-audit-assistant/internal/ui"
)

func newWatchCommand(global *GlobalOptions) *cobra.Command {
	var interval time.Duration
	var pipeline string

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Rescan a contract whenever its sources change",
		Long:  "watch polls the target's source files and runs a static-only scan after every change.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return &ExitError{Code: 2, Message: "--interval must be positive"}
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			root := abs
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				root = filepath.Dir(abs)
			}

			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), func(c *config.Config) {
				c.Server.TrustedRoot = root
			})
			if err != nil {
				return err
			}
			defer a.Close()
			configureColor(cmd.OutOrStdout())

			target, err := a.resolver.Resolve(abs)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			noAI := false
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (every %s, Ctrl+C to stop)\n", target.Path, interval)
			return watchLoop(ctx, interval, func() (string, error) {
				return fingerprint(a.resolver, target)
			}, func() error {
				report, err := a.orch.StartScan(context.WithoutCancel(ctx), orchestrator.Request{
					ContractPath: target.Path,
					IncludeAI:    &noAI,
					Pipeline:     pipeline,
				})
				if err != nil {
					a.log.Error("scan failed", a.log.Args("error", err.Error()))
					return nil
				}
				ui.PrintReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().StringVar(&pipeline, "pipeline", "fast", "Pipeline profile for rescans")
	return cmd
}

// watchLoop calls onChange once at start and then whenever the fingerprint
// changes, until ctx is done.
func watchLoop(ctx context.Context, interval time.Duration, fp func() (string, error), onChange func() error) error {
	last, err := fp()
	if err != nil {
		return err
	}
	if err := onChange(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := fp()
			if err != nil {
				return err
			}
			if cur == last {
				continue
			}
			last = cur
			if err := onChange(); err != nil {
				return err
			}
		}
	}
}

// fingerprint hashes the path, size and mtime of every source in target.
func fingerprint(r *scan.Resolver, target scan.Target) (string, error) {
	files, err := r.Sources(target)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", f, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
