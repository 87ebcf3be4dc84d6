package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genproxy/internal/http/handlers"
	"genproxy/internal/infra"
	"genproxy/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthToken(app.Clients))

		r.Route("/api/higgsfield", func(r chi.Router) {
			r.Post("/text2image", app.TextToImage)
			r.Post("/soul", app.StyledImage)
			r.Post("/image2video", app.ImageToVideo)
		})

		r.Post("/api/media", app.MediaUpload)

		r.Route("/api/task/{id}", func(r chi.Router) {
			r.Get("/status", app.TaskStatus)
			r.Post("/cancel", app.TaskCancel)
		})
	})

	return r
}
