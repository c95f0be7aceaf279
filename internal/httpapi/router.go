package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventscrape/core/internal/config"
)

// Router assembles the full chi mux: global middleware, then one route group per resource,
// grounded on the teacher's chi_router.go (global middleware first, r.Route per resource,
// r.With for stricter per-route limits).
func (h *Handler) Router(cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(cfg.APIRateLimitMax, cfg.APIRateLimitWindow))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/sources", func(r chi.Router) {
		r.Get("/", h.ListSources)
		r.Post("/", h.CreateSource)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSource)
			r.Put("/", h.UpdateSource)
			r.Delete("/", h.DeleteSource)
		})
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", h.ListRuns)
		r.Post("/scrape/{module_key}", h.StartScrape)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Post("/cancel", h.CancelRun)
		})
	})

	r.Route("/api/logs", func(r chi.Router) {
		r.Get("/stream/{run_id}", h.StreamLogs)
		r.Get("/history/{run_id}", h.LogHistory)
	})

	r.Route("/api/schedules", func(r chi.Router) {
		r.Get("/", h.ListSchedules)
		r.Post("/", h.CreateSchedule)
		r.Post("/trigger-all-active", h.TriggerAllActiveSchedules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSchedule)
			r.Put("/", h.UpdateSchedule)
			r.Delete("/", h.DeleteSchedule)
			r.Post("/trigger", h.TriggerSchedule)
		})
	})

	r.Route("/api/exports", func(r chi.Router) {
		r.Get("/", h.ListExports)
		r.Post("/", h.CreateExport)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetExport)
			r.Get("/download", h.DownloadExport)
			r.Post("/cancel", h.CancelExport)
		})
	})

	r.Route("/api/matches", func(r chi.Router) {
		r.Get("/", h.ListMatches)
		r.Post("/generate", h.GenerateMatches)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetMatch)
			r.Post("/confirm", h.ConfirmMatch)
			r.Post("/reject", h.RejectMatch)
			r.Post("/merge", h.MergeMatch)
		})
	})

	r.Route("/api/wordpress-settings", func(r chi.Router) {
		r.Get("/", h.ListWordPressSettings)
		r.Post("/", h.CreateWordPressSettings)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.UpdateWordPressSettings)
			r.Delete("/", h.DeleteWordPressSettings)
		})
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
	})

	return r
}

// startTimeSince reports process uptime for the health handler.
func (h *Handler) startTimeSince() time.Duration {
	return time.Since(h.startTime)
}
