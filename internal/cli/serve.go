package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
	"github.com/CodeKage25/smart-audit-assistant/internal/server"
)

func newServeCommand(global *GlobalOptions) *cobra.Command {
	var addr string
	var root string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scan service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), global, cmd.ErrOrStderr(), func(c *config.Config) {
				if addr != "" {
					c.Server.Addr = addr
				}
				if root != "" {
					c.Server.TrustedRoot = root
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			handler := server.New(server.Options{
				Service:        a.orch,
				UploadsDir:     a.cfg.Server.UploadsDir,
				Extension:      a.cfg.Scan.Extension,
				MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
				Logger:         a.log,
			}).Handler()

			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", a.log.Args("addr", srv.Addr, "trusted_root", a.resolver.Root()))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return &ExitError{Code: 1, Message: fmt.Sprintf("server: %v", err)}
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down, waiting for running scans")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("http shutdown", a.log.Args("error", err.Error()))
			}
			a.orch.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&root, "root", "", "Trusted root directory (default from config)")
	return cmd
}
