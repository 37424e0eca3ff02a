package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/api/middleware"
	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/handlers"
)

// RouterConfig holds what the router needs beyond the handlers.
type RouterConfig struct {
	RateLimitClient    *redis.Client // nil disables rate limiting
	RateLimitWhitelist []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if cfg.RateLimitClient != nil {
		limiter := middleware.NewRateLimiter(cfg.RateLimitClient, logger, middleware.RateLimiterConfig{
			Whitelist: cfg.RateLimitWhitelist,
		})
		r.Use(limiter.Middleware)
	}

	// Peers call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			chatclient.HeaderAppID, chatclient.HeaderAppVersion, chatclient.HeaderChatName,
			chatclient.HeaderTimestamp, chatclient.HeaderLatitude, chatclient.HeaderLongitude,
			chatclient.HeaderIdempotencyKey,
		},
		ExposedHeaders:   []string{"Location", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Get("/peers/{chatName}", h.Who)
		r.Get("/rooms/{chatroom}/messages", h.ListMessages)
		r.Post("/{chatName}", h.PostMessage)
	})

	return r
}
