// Command worker claims jobs from the durable queue and executes them:
// suggestion cycles, validation runs, autotune sessions and the sync jobs.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/options-assistant/internal/adapter/queue/pgqueue"
	"github.com/fairyhunter13/options-assistant/internal/app"
	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

func main() {
	os.Exit(run())
}

// Exit codes mirror the server: 1 for secrets/DB, 2 for invalid values.
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

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := app.Bootstrap(rootCtx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		return 1
	}
	defer services.Close()

	pool := services.NewWorkerPool()
	app.RegisterJobHandlers(pool, services)

	sweeper := pgqueue.NewLeaseSweeper(services.Jobs, services.Clock, cfg.LeaseTimeout, cfg.LeaseSweepInterval)
	go sweeper.Run(rootCtx)

	// The worker has no API surface; it still exposes metrics and liveness
	// on its own listener.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", slog.Any("error", err))
		}
	}()

	pool.Start(rootCtx)
	slog.Info("worker running", slog.Int("workers", cfg.WorkerCount))

	<-rootCtx.Done()
	slog.Info("shutdown signal received, draining")
	pool.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return 0
}
