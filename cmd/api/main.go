package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"microloan-funnel/internal/cache"
	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/config"
	"microloan-funnel/internal/database"
	"microloan-funnel/internal/events"
	"microloan-funnel/internal/features"
	"microloan-funnel/internal/funnel"
	"microloan-funnel/internal/handler"
	"microloan-funnel/internal/logging"
	"microloan-funnel/internal/metrics"
	"microloan-funnel/internal/middleware"
	"microloan-funnel/internal/profile"
	"microloan-funnel/internal/service"
	"microloan-funnel/internal/tracing"
	"microloan-funnel/internal/tracker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "", "Config file path (JSON or YAML)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := features.NewDefaultManager(cfg.Features)

	cfg.Tracing.Version = version
	if _, err := tracing.InitTracing(cfg.Tracing); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	repo, err := catalog.NewFileRepository(cfg.Catalog.Path, logger.Named("catalog"))
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	em := events.NewManager(cfg.Events.Enabled && flags.IsEnabled(features.FeatureEventHooksEnabled), logger.Named("events"))
	defer em.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.Subscribe(em)
	m.SetCatalogActive(len(repo.ListActive()))

	cacheOpts := cache.Options{
		Backend:   cfg.Cache.Backend,
		Addr:      cfg.Cache.Addr,
		Password:  cfg.Cache.Password,
		DB:        cfg.Cache.DB,
		KeyPrefix: cfg.Cache.KeyPrefix,
	}
	if !flags.IsEnabled(features.FeatureCacheEnabled) {
		cacheOpts.Backend = "memory"
	}
	store := cache.New(ctx, cacheOpts, logger.Named("cache"))
	defer store.Close()

	profiles := profile.NewService(db, em, logger.Named("profile"))
	ctrl := funnel.NewController(repo, profiles, tracker.New(db, em, logger.Named("tracker")), flags, logger)
	dispatcher := funnel.NewDispatcher(ctrl, store, cfg.Cache.TTLDuration(), logger)

	svc := service.NewService(db, repo, repo, em, logger.Named("service"))
	h := handler.NewHandlerWithOptions(svc, dispatcher, profiles, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger.Named("handler"),
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())
	r.Use(m.Middleware)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter, logger.Named("ratelimit")))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("version", version),
			zap.String("database", cfg.Database.Path),
			zap.String("catalog", cfg.Catalog.Path),
			zap.String("cache", cacheOpts.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(repo, logger.Named("catalog"), cfg.Catalog.DebounceDuration(), func(snap *catalog.Snapshot) {
			em.PublishCatalogReloaded(gctx, snap.Len(), len(snap.Active()))
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownDuration())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
