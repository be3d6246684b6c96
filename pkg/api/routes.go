package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}

		r.Get("/health", s.handleHealth)

		r.Get("/report", s.handleReport)
		r.Get("/report.html", s.handleReportHTML)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/configs", s.handleConfigs)
		r.Get("/configs/{name}", s.handleConfig)
		r.Get("/configs/{name}/logs/{step}", s.handleStepLog)

		r.Get("/files/*", s.handleFileRequest)
		r.Head("/files/*", s.handleFileRequest)

		if s.history != nil {
			r.Route("/history", func(r chi.Router) {
				r.Get("/runs", s.handleHistoryRuns)
				r.Get("/runs/{runID}", s.handleHistoryRun)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
