package main

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

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/presentation/tui"
	httpadapter "github.com/aretw0/relay/pkg/adapters/http"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Serves the query, streaming, session and introspection API under /api/v1, plus /metrics and /swagger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cfg, err := buildRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		handler := httpadapter.NewHandler(rt.Engine,
			httpadapter.WithLogger(rt.Logger),
			httpadapter.WithCORSOrigins(cfg.Server.CORSOrigins),
			httpadapter.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
			httpadapter.WithTrustProxy(cfg.Server.TrustProxy),
			httpadapter.WithMetrics(rt.Metrics),
		)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		if tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr, relay.Version)
		}

		serverErrors := make(chan error, 1)
		go func() {
			rt.Logger.Info("Starting Relay Server",
				"addr", srv.Addr,
				"workers", len(rt.Specs),
				"store", cfg.Store.Driver,
			)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			rt.Logger.Info("Start shutdown", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				rt.Logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			rt.Logger.Info("Relay Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides server.addr)")
}
