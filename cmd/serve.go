package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"permitwatch/internal/api"
)

// newServeCmd creates the 'serve' subcommand: the read-only ops API with
// health probes and Prometheus metrics.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only ops API",
		Long: `Starts the HTTP server exposing health probes, Prometheus metrics,
and read-only views of recent permits and runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv := api.NewServer(a.Store(), a.Logger().Named("api"))
			return serveHTTP(cmd.Context(), a.Logger(), "ops api", a.Config().Server.Addr, srv.Handler())
		},
	}
}

// serveHTTP runs an HTTP server until ctx is canceled, then drains it.
func serveHTTP(ctx context.Context, logger *zap.Logger, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server listening", zap.String("server", name), zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down %s server: %w", name, err)
	}
	logger.Info("server stopped", zap.String("server", name))
	return nil
}
