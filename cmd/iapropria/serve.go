package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/iapropria/iapropria/internal/http"
	"github.com/iapropria/iapropria/internal/settings"
)

func newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		staticDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API and, when configured, serve the web client from a
static directory.

Examples:
  # Use the configured address
  iapropria serve

  # Override the port and serve a built frontend
  iapropria serve --port 9000 --static ./web/dist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("static") {
				a.cfg.Server.StaticDir = staticDir
			}
			return runServer(ctx, a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the web client")
	return cmd
}

func runServer(ctx context.Context, a *app) error {
	if a.cfg.Settings.Watch {
		w, err := settings.Watch(ctx, a.settings)
		if err != nil {
			a.logger.Warn(ctx, "settings file watch disabled", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv, err := httpserver.NewServer(a.vectors, a.users, a.settings, a.logger, &httpserver.Config{
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
		StaticDir: a.cfg.Server.StaticDir,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	st := a.vectors.Status(ctx)
	if !st.Configured {
		a.logger.Warn(ctx, "vector store not configured, document endpoints will return 503",
			zap.String("reason", st.Error))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
