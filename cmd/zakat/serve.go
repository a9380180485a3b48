package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/sadaka-platform/zakat/internal/backend"
	"github.com/sadaka-platform/zakat/internal/calculator"
	"github.com/sadaka-platform/zakat/internal/nisab"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the calculator HTTP service",
	Long: `Serves live preview, submit, nisab, history and payment endpoints under
/api/v1/zakat. The nisab is fetched from the backend once per Mini-App
session and falls back to the configured static value while the backend is
unavailable.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, fallback, b, err := buildNisabProvider(true)
	if err != nil {
		return err
	}
	sessions := nisab.NewSessions(provider, fallback, cfg.Nisab.SessionTTL, logger)

	var calcBackend calculator.Backend
	if b != nil {
		calcBackend = b
	}
	handler := calculator.NewHandler(sessions, calcBackend, cfg.HTTP.RequestTimeout, logger)
	router := calculator.NewRouter(handler, calculator.RouterConfig{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		DevUserID:      cfg.DevUserID,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      otelhttp.NewHandler(router, "zakat"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

// buildNisabProvider returns the configured provider, the static fallback
// and, when a backend URL is set, the backend client behind the provider.
// A strict provider reports backend failures instead of falling back.
func buildNisabProvider(strict bool) (nisab.Provider, nisab.Info, *backend.Client, error) {
	zc, err := cfg.ZakatConfig()
	if err != nil {
		return nil, nisab.Info{}, nil, err
	}
	fallback := nisab.FromConfig(zc)

	if cfg.Backend.BaseURL == "" {
		logger.Warn("no backend configured, using static nisab")
		return nisab.Static(fallback), fallback, nil, nil
	}

	client := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger),
	)
	opts := []nisab.RemoteOption{nisab.WithFallback(fallback), nisab.WithLogger(logger)}
	if strict {
		opts = append(opts, nisab.WithStrict())
	}
	return nisab.NewRemote(client, opts...), fallback, client, nil
}
