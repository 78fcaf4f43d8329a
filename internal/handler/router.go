package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"schema-migration-service/config"
	"schema-migration-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(h *PlanHandler, cfg *config.Config, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Post("/plans", h.CreatePlan)
		r.Route("/databases/{database}", func(r chi.Router) {
			r.Get("/plan", h.GetDatabasePlan)
			r.Get("/flyway-configs", h.GetFlywayConfigs)
		})
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/plans", h.ListTenantPlans)
			r.Get("/{slug}/plan", h.GetTenantPlan)
		})
	})

	if cfg != nil && cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
