// Command server runs the HTTP API: cron task dispatch, the suggestion
// inbox, validation control, ops and health endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/adapter/httpserver"
	"github.com/fairyhunter13/options-assistant/internal/app"
	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

func main() {
	os.Exit(run())
}

// Exit codes: 0 clean shutdown, 1 missing secret or unreachable database,
// 2 invalid configuration values.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config parse failed:", err)
		return 2
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.ValidateValues(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 2
	}
	if err := cfg.ValidateSecrets(); err != nil {
		slog.Error("missing or malformed secret", slog.Any("error", err))
		return 1
	}

	observability.InitMetrics()
	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	services, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		return 1
	}
	defer services.Close()

	srv := &httpserver.Server{
		Cfg:         cfg,
		Dispatcher:  services.Dispatcher,
		Inbox:       services.Inbox,
		Validation:  services.Validation,
		Health:      services.Health,
		Pause:       services.Pause,
		Integrity:   services.Integrity,
		Jobs:        services.Jobs,
		Holdings:    services.Holdings,
		Credentials: services.Credentials,
		Secrets:     services.Secrets,
		DBCheck:     app.DBCheck(services.Pool),
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return 0
}
