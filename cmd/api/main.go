package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"box-claims-api/internal/cache"
	"box-claims-api/internal/claims"
	"box-claims-api/internal/config"
	"box-claims-api/internal/database"
	"box-claims-api/internal/events"
	"box-claims-api/internal/features"
	"box-claims-api/internal/handler"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/metrics"
	"box-claims-api/internal/middleware"
	"box-claims-api/internal/models"
	"box-claims-api/internal/notify"
	"box-claims-api/internal/offers"
	"box-claims-api/internal/settings"
	"box-claims-api/internal/storage"
	"box-claims-api/internal/tracing"
)

const version = "1.0.0"

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.IsDevelopment(), cfg.Logging.Level)
	log := logging.Logger()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Server.Environment,
		Version:     version,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	defer db.Close()

	var appCache cache.Cache = cache.NewInMemoryCache()
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, falling back to in-memory cache")
		} else {
			appCache = redisCache
			defer redisCache.Close()
		}
	}

	fm := features.NewManager()
	fm.RegisterDefaults(cfg.Features.CacheEnabled, cfg.Features.EventHooksEnabled, cfg.Features.LegacyTransitions)

	em := events.NewManager(fm.IsEnabled(features.FeatureEventHooksEnabled))
	m := metrics.New()

	proofs, err := storage.NewProofStore(cfg.Storage.ProofDir, cfg.Storage.MaxProofSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize proof storage")
	}

	notifier := notify.NewService(db)
	settingsSvc := settings.NewService(db, appCache, fm, models.SupportConfig{
		Email: cfg.Support.DefaultEmail,
		Phone: cfg.Support.DefaultPhone,
	})
	registry := offers.NewRegistry(db, notifier, proofs, appCache, fm, em)
	engine := claims.NewEngine(db, registry, notifier, settingsSvc, fm, em)
	m.Subscribe(em, registry)

	h := handler.NewHandlerWithOptions(handler.Services{
		Offers:        registry,
		Claims:        engine,
		Notifications: notifier,
		Settings:      settingsSvc,
		Proofs:        proofs,
		DB:            db,
	}, handler.NewHandlerOptions{
		MaxBodySize:  cfg.Security.MaxRequestBodySize,
		MaxProofSize: cfg.Storage.MaxProofSize,
	})

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())
	r.Use(middleware.RequestLogger(m))

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOriginsList(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret, db))
		h.RegisterRoutes(r)
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Bool("tls", cfg.Server.EnableTLS).
			Str("database", cfg.Database.Path).
			Str("environment", cfg.Server.Environment).
			Msg("starting server")

		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down server")
	}
	em.Shutdown()
	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	if err := tracing.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer")
	}
}
