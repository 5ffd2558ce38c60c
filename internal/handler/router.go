package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the engine's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// RouterDeps wires the router.
type RouterDeps struct {
	Player      *PlayerHandler
	Admin       *AdminHandler
	AdminKey    string
	AdminPolicy AdminPolicy
	CORSOrigins []string
	Health      HealthFunc
}

// NewRouter builds the HTTP routes.
func NewRouter(d RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderIdempotencyKey, HeaderAdminKey, HeaderAdminID},
		ExposedHeaders:   []string{HeaderReplayed},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	r.Get("/health", healthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(rr chi.Router) {
		rr.Post("/wagers", d.Player.PlayWager)
		rr.Get("/settings", d.Player.Settings)
		rr.Get("/users/{id}/balance", d.Player.Balance)
	})

	r.Route("/admin", func(rr chi.Router) {
		rr.Use(AdminMiddleware(d.AdminKey, d.AdminPolicy))

		rr.Route("/settings", func(rs chi.Router) {
			rs.Get("/", d.Admin.GetSettings)
			rs.Put("/", d.Admin.PutSettings)
			rs.Post("/reset", d.Admin.ResetSettings)
			rs.Get("/history", d.Admin.History)
			rs.Put("/bets", d.Admin.UpdateBets)
			rs.Put("/risk", d.Admin.UpdateRisk)
			rs.Put("/manipulation", d.Admin.UpdateManipulation)
			rs.Put("/availability", d.Admin.UpdateAvailability)
			rs.Put("/variant", d.Admin.UpdateVariant)
			rs.Put("/tiers/{tier}", d.Admin.UpdateTier)
		})

		rr.Get("/tiers/halted", d.Admin.HaltedTiers)
		rr.Post("/tiers/{tier}/resume", d.Admin.ResumeTier)

		rr.Put("/users/{id}", d.Admin.UpsertUser)
		rr.Post("/users/{id}/credit", d.Admin.Credit)

		rr.Get("/records", d.Admin.Records)
		rr.Get("/records/{id}", d.Admin.Record)
		rr.Get("/audit", d.Admin.Audit)
		rr.Get("/risk/hourly", d.Admin.Hourly)
		rr.Get("/reports/daily", d.Admin.DailyReport)
	})

	return r
}

func healthHandler(check HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
