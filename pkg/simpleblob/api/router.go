package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// RouterConfig configures NewRouter
type RouterConfig struct {
	Environment          string
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	RequestTimeout       time.Duration
	StaticDir            string
	AllowedOrigins       []string
	Logger               *slog.Logger
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

// HealthHandler reports liveness and the runtime environment
func HealthHandler(environment string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, HealthResponse{
			Status:      "OK",
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
			Environment: environment,
		})
	}
}

// MountBlobRoutes registers the rate-limited blob API on r at /api/blobs
func MountBlobRoutes(r chi.Router, service simpleblob.Service, limiter *RateLimiter) {
	handler := NewBlobHandler(service)
	r.Route("/api/blobs", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Mount("/", handler.Routes())
	})
}

// NewRouter builds the complete HTTP handler of the standalone server
func NewRouter(service simpleblob.Service, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(CORSMiddleware(cfg.AllowedOrigins, nil, nil))

	r.Get("/health", HealthHandler(cfg.Environment))

	MountBlobRoutes(r, service, NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxRequests))

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	} else {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, http.StatusNotFound, Response{Success: false, Error: "Route not found"})
		})
	}

	return r
}
