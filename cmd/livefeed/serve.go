package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/notify"
	"github.com/dgnsrekt/livefeed/internal/server"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync layer with its HTTP status surface",
		Long: `Connect to the push socket, keep subscriptions in sync and expose
cached snapshots, metrics and a connection refresh over HTTP.

Examples:
  # Run with the default config
  livefeed serve

  # Override the listen port
  livefeed serve --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if port != "" {
				cfg.Server.Port = port
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			notifier := notify.New(&notify.Config{
				Enabled:         cfg.Notify.Enabled,
				Server:          cfg.Notify.Server,
				Topic:           cfg.Notify.Topic,
				Priority:        cfg.Notify.Priority,
				Tags:            cfg.Notify.Tags,
				Token:           cfg.Notify.Token,
				DisconnectGrace: cfg.Notify.DisconnectGrace(),
			}, logger)
			watcher := notify.NewWatcher(notifier, cfg.Notify.DisconnectGrace(), func() int {
				return len(a.registry.Active())
			}, logger)
			go watcher.Run(ctx, a.connector.States())

			if !cfg.Server.Enabled {
				logger.Info("http server disabled, running headless")
				<-ctx.Done()
				logger.Info("shutting down")
				return nil
			}

			refresh := server.NewRefreshManager(a.connector, cfg.Server.RefreshTimeout(), logger)
			srv := server.NewServer(a.provider, refresh, logger)

			// Request contexts end with ctx so open SSE streams let Shutdown finish.
			httpServer := &http.Server{
				Addr:        ":" + cfg.Server.Port,
				Handler:     server.NewRouter(srv, a.metrics, logger),
				ReadTimeout: 30 * time.Second,
				BaseContext: func(net.Listener) context.Context { return ctx },
			}

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				logger.Error("server error", zap.Error(err))
				return err
			}

			logger.Info("shutting down server...")

			// Graceful HTTP server shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
				return err
			}

			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")

	return cmd
}
