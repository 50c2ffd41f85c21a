// Package app assembles the HTTP router and shared process plumbing for
// the server and worker binaries.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/options-assistant/internal/adapter/httpserver"
	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// Empty input allows all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Cron dispatch, shared-secret guarded.
	r.Group(func(cr chi.Router) {
		cr.Use(httpserver.CronAuth(cfg.ResolvedCronSecret(), srv.Integrity))
		cr.Post("/tasks/{slug}", srv.TaskHandler())
		cr.Post("/tasks/{group}/{action}", srv.TaskHandler())
	})

	// User-facing API, JWT guarded. The test-mode header shortcut is only
	// honored outside production.
	r.Group(func(ur chi.Router) {
		ur.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		ur.Use(httpserver.UserAuth(cfg.JWTSecret, !cfg.IsProd(), srv.Integrity))

		ur.Get("/inbox", srv.InboxHandler())
		ur.Post("/inbox/stage-batch", srv.StageBatchHandler())
		ur.Post("/suggestions/{id}/dismiss", srv.DismissHandler())
		ur.Post("/suggestions/{id}/complete", srv.CompleteHandler())
		ur.Post("/suggestions/{id}/refresh-quote", srv.RefreshQuoteHandler())
		// Older clients address suggestions through the inbox path.
		ur.Post("/inbox/{id}/dismiss", srv.DismissHandler())
		ur.Post("/inbox/{id}/complete", srv.CompleteHandler())
		ur.Post("/inbox/{id}/refresh-quote", srv.RefreshQuoteHandler())

		ur.Get("/validation/status", srv.ValidationStatusHandler())
		ur.Post("/validation/run", srv.ValidationRunHandler())
		ur.Post("/validation/reset", srv.ValidationResetHandler())
		ur.Get("/validation/journal", srv.JournalHandler())

		ur.Get("/jobs/{id}", srv.JobHandler())

		ur.Put("/internal/credentials", srv.StoreCredentialHandler())
		ur.Delete("/internal/credentials/{provider}", srv.DeleteCredentialHandler())
		ur.Put("/internal/holdings", srv.UpsertHoldingHandler())
	})

	// Ops surface, cron-secret guarded so dashboards and pause control stay
	// off the public API.
	r.Group(func(or chi.Router) {
		or.Use(httpserver.CronAuth(cfg.ResolvedCronSecret(), srv.Integrity))
		or.Get("/ops/health", srv.OpsHealthHandler())
		or.Post("/ops/pause", srv.PauseHandler())
		or.Post("/ops/resume", srv.ResumeHandler())
	})

	r.Get("/system/health", srv.SystemHealthHandler())
	r.Get("/healthz", httpserver.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return otelhttp.NewHandler(httpserver.SecurityHeaders(r), "http.server")
}
