package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the public API surface. Everything under /v1 except
// the health probe requires a bearer token.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(nil),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.SubmitJobs)
			r.Get("/statuses", app.JobStatuses)
			r.Get("/stats/average-duration", app.AverageDuration)
			r.Get("/{job_id}", app.JobStatus)
			r.Post("/{job_id}/translate", app.TranslateJob)
		})

		r.Get("/v1/assets/{asset_id}/download", app.DownloadAsset)
		r.Get("/v1/events", app.Events)
	})

	return r
}
