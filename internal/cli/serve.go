package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference fieldkit API server",
		Long: `Serve exposes the fieldkit remote API over HTTP, storing definitions and
values in the configured backend. It stops on SIGINT or SIGTERM.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLogLevel: serveDefaultLogLevel},
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.settings.ListenAddr
			}
			backend, err := a.attachBackend()
			if err != nil {
				return err
			}
			defer func() {
				if err := backend.Detach(); err != nil {
					a.log.Warn("detach backend", zap.Error(err))
				}
			}()

			srv := server.New(backend,
				server.WithLogger(a.log),
				server.WithAllowedOrigins(a.settings.AllowedOrigins...))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx, addr); err != nil {
				return sysError(fmt.Errorf("serve: %w", err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default: listen_addr from config)")
	return cmd
}
