package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. An
// empty or "*" input means "allow all".
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

// RouterConfig carries the pieces of config.Config the router needs,
// avoiding an import of the config package from httpserver.
type RouterConfig struct {
	CORSAllowOrigins string
	RateLimitPerMin  int
	RequestTimeout   time.Duration
}

// BuildRouter constructs the full HTTP handler: middleware chain, CORS,
// per-IP rate limiting on mutating endpoints, and every route from the
// endpoint table.
func BuildRouter(cfg RouterConfig, s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(TraceMiddleware)
	r.Use(AccessLog())

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, http.StatusText(http.StatusGatewayTimeout))
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.HealthHandler)
	r.Get("/api/health/secrets", s.SecretsHealthHandler)
	r.Get("/api/status", s.StatusHandler)
	r.Get("/api/pipelines", s.PipelinesHandler)

	r.Group(func(wr chi.Router) {
		rateLimit := cfg.RateLimitPerMin
		if rateLimit <= 0 {
			rateLimit = 30
		}
		wr.Use(httprate.LimitByIP(rateLimit, time.Minute))
		wr.Post("/api/pipelines/{pipeline_id}/trigger", s.TriggerHandler)
		wr.Post("/api/jobs/{job_id}/cancel", s.JobCancelHandler)
		wr.Post("/api/jobs/{job_id}/retry", s.JobRetryHandler)
	})

	r.Get("/api/pipelines/{pipeline_id}/jobs", s.JobsListHandler)
	r.Get("/api/jobs/{job_id}", s.JobGetHandler)
	r.Get("/api/pipelines/{pipeline_id}/events", s.EventsHandler)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return SecurityHeaders(r)
}
