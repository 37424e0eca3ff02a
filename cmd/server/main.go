package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eldtechnologies/peerchat/internal/api"
	"github.com/eldtechnologies/peerchat/internal/broadcast"
	"github.com/eldtechnologies/peerchat/internal/config"
	"github.com/eldtechnologies/peerchat/internal/handlers"
	"github.com/eldtechnologies/peerchat/internal/logger"
	"github.com/eldtechnologies/peerchat/internal/store"
)

func main() {
	cfg := config.LoadServer()

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Console = cfg.IsDevelopment()
	log := logger.New(logCfg)

	ctx := context.Background()

	// Redis sequences every message and is required
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	log.Info().Msg("connected to Redis")

	deps := handlers.Deps{
		Registry:  redisStore,
		Sequencer: redisStore,
		Messages:  redisStore,
		Publisher: broadcast.Nop{},
		Checks:    map[string]handlers.Pinger{"redis": redisStore},
		Logger:    log,
	}

	// With Postgres configured it becomes the durable log and Redis the cache
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()

		log.Info().Msg("running database migrations...")
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("connected to PostgreSQL")

		deps.Registry = pgStore
		deps.Messages = pgStore
		deps.Cache = redisStore
		deps.Checks["postgres"] = pgStore
	} else {
		// Redis is the only message log, so messages must not expire
		redisStore.KeepMessages()
	}

	if cfg.NATSURL != "" {
		pub, err := broadcast.NewNATSPublisher(cfg.NATSURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connection failed")
		}
		defer pub.Close()
		deps.Publisher = pub
		log.Info().Msg("connected to NATS")
	}

	router := api.NewRouter(log, handlers.NewHandler(deps), api.RouterConfig{
		RateLimitClient:    redisStore.Client(),
		RateLimitWhitelist: cfg.RateLimitWhitelist,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("postgres", cfg.DatabaseURL != "").
			Bool("nats", cfg.NATSURL != "").
			Msg("starting peerchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
