// Package main is the entry point for the render cache server.
// It loads configuration, connects to the configured services, wires the
// render cache, sets up routing, and starts the HTTP server with graceful
// shutdown support.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"rendercache/internal/cache"
	"rendercache/internal/config"
	"rendercache/internal/database"
	"rendercache/internal/engine"
	"rendercache/internal/handlers"
	"rendercache/internal/link"
	"rendercache/internal/observe"
	"rendercache/internal/render"
	"rendercache/internal/router"
	"rendercache/internal/session"
	"rendercache/internal/store"
	"rendercache/internal/tagindex"
	"rendercache/internal/variation"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured logger: JSON in production, text otherwise.
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	if cfg.Env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("configuration loaded",
		"env", cfg.Env,
		"addr", cfg.Addr(),
		"cache_backend", cfg.CacheBackend,
		"tag_index", cfg.TagIndex,
		"page_store", cfg.PageStore,
		"strict", cfg.RenderStrict,
		"parallel", cfg.RenderParallel,
	)

	// Connect to PostgreSQL only if something is stored there.
	var db *sql.DB
	if cfg.NeedsPostgres() {
		db, err = database.Connect(cfg.DSN())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to Valkey only if something is stored there.
	var valkeyClient *redis.Client
	if cfg.NeedsValkey() {
		valkeyClient, err = cache.ConnectValkey(cfg.ValkeyHost, cfg.ValkeyPort, cfg.ValkeyPassword)
		if err != nil {
			slog.Error("failed to connect to valkey", "error", err)
			os.Exit(1)
		}
		defer valkeyClient.Close()
	}

	// Metrics: OpenTelemetry instruments exported for Prometheus scraping.
	metrics := observe.Noop()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		prom, err := observe.NewPrometheus()
		if err != nil {
			slog.Error("failed to initialize metrics", "error", err)
			os.Exit(1)
		}
		defer prom.Shutdown(context.Background())
		otel.SetMeterProvider(prom.Provider)

		if metrics, err = prom.Metrics(); err != nil {
			slog.Error("failed to create instruments", "error", err)
			os.Exit(1)
		}
		metricsHandler = prom.Handler()
	}

	// Raw cache backend.
	var backend cache.Backend
	switch cfg.CacheBackend {
	case config.BackendValkey:
		backend = cache.NewValkeyBackend(valkeyClient, cache.DefaultKeyPrefix)
	default:
		backend, err = cache.NewMemoryBackend(cfg.CacheMemorySize)
		if err != nil {
			slog.Error("failed to create memory cache", "error", err)
			os.Exit(1)
		}
	}

	// Tag invalidation index.
	var index tagindex.Index
	switch cfg.TagIndex {
	case config.IndexValkey:
		index = tagindex.NewValkeyIndex(valkeyClient, tagindex.DefaultValkeyKey)
	case config.IndexPostgres:
		index = tagindex.NewPostgresIndex(db)
	default:
		index = tagindex.NewMemoryIndex()
	}

	opts := []variation.Option{variation.WithMetrics(metrics)}
	var invalidationLog handlers.InvalidationLog
	if db != nil {
		logStore := store.NewInvalidationLogStore(db)
		opts = append(opts, variation.WithRecorder(logStore))
		invalidationLog = logStore
	}
	renderCache := variation.New(backend, index, opts...)

	// Pages.
	var pages handlers.PageSource
	if cfg.PageStore == config.PagesPostgres {
		pages = store.NewPageStore(db)
	} else {
		pages = store.NewMemoryPageStore(store.DefaultPages()...)
	}

	// Render pipeline: link generation, template production, tree walker.
	links := link.New(cfg.DefaultLanguage, cfg.BaseURL)
	eng := engine.New(links)
	walker := render.NewWalker(renderCache,
		render.WithStrict(cfg.RenderStrict),
		render.WithParallel(cfg.RenderParallel),
		render.WithMetrics(metrics),
	)

	// Visitor sessions, which the user contexts resolve from.
	var sessionStore *session.Store
	var sessionHandlers *handlers.Sessions
	if cfg.SessionsEnabled {
		sessionStore = session.NewStore(valkeyClient, !cfg.IsDev())
		sessionHandlers = handlers.NewSessions(sessionStore)
	}

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, maintenance endpoints are open")
	}
	r := router.New(sessionStore, cfg.AdminToken, router.Handlers{
		Public:    handlers.NewPublic(walker, eng, pages, renderCache, cfg.DefaultLanguage, cfg.Languages),
		Cache:     handlers.NewCache(renderCache, invalidationLog),
		Templates: handlers.NewTemplates(eng, renderCache),
		Sessions:  sessionHandlers,
		Metrics:   metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: wait for SIGINT or SIGTERM, then drain connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
