package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface: public health and metrics endpoints
// plus the JWT-protected video task API.
func NewRouter(app *handlers.App, cfg *infra.Config, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Logger,
		middleware.CORS([]string{"http://localhost:3000"}),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Transferred video artifacts.
	r.Method(http.MethodGet, "/static/*",
		http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath))))

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Get("/v1/engines/status", app.EnginesStatus)

		r.Route("/v1/video-tasks", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/", app.JobsList)
			r.Get("/{id}", app.JobsGet)
			r.Patch("/{id}/status", app.JobsUpdateStatus)
			r.Post("/{id}/cancel", app.JobsCancel)
			r.Delete("/{id}", app.JobsDelete)
		})
	})

	return r
}
