// Package main is the entry point for the feed ranking API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/feedrank/internal/api"
	"github.com/onnwee/feedrank/internal/auth"
	"github.com/onnwee/feedrank/internal/config"
	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/db"
	"github.com/onnwee/feedrank/internal/health"
	"github.com/onnwee/feedrank/internal/middleware"
	"github.com/onnwee/feedrank/internal/profile"
	"github.com/onnwee/feedrank/internal/ranking"
	"github.com/onnwee/feedrank/internal/tracing"
)

const (
	serviceName     = "feedrank-api"
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Feedrank API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLoggerWithLevel(cfg.Env, middleware.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run builds the application, serves until ctx is cancelled and then shuts
// down gracefully.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// app is the wired HTTP handler plus the resources it owns.
type app struct {
	handler http.Handler
	closers []func(context.Context) error
	logger  *slog.Logger
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to release resource", "error", err)
		}
	}
}

// newApp connects storage, builds the ranking engine and assembles the
// middleware chain. On error every resource opened so far is released.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
		Version:      version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	var (
		contentStore content.Store
		profileStore profile.Store
		dbChecker    api.HealthChecker
		redisChecker api.HealthChecker
	)

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		contentStore = content.NewPostgresStore(conn, logger)
		profileStore = profile.NewPostgresStore(conn, logger)
		dbChecker = health.NewDBChecker(conn)
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		contentStore = content.NewInMemoryStore()
		profileStore = profile.NewInMemoryStore()
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		redisChecker = health.NewRedisChecker(client)
		if ttl := cfg.ProfileCacheTTL(); ttl > 0 {
			profileStore = profile.NewCachedStore(profileStore, client, ttl, logger)
			logger.Info("profile cache enabled", "ttl", ttl.String())
		}
	}

	weights := ranking.DefaultWeights()
	if cfg.RankingCalibrationPath != "" {
		weights, err = ranking.LoadCalibration(cfg.RankingCalibrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ranking calibration: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rankingMetrics := ranking.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	if cfg.MetricsEnabled {
		if err := rankingMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register ranking metrics: %w", err)
		}
		if err := httpMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register http metrics: %w", err)
		}
	}

	engine := ranking.NewEngine(
		profileStore,
		content.NewRetriever(contentStore, cfg.CandidateLimit, logger),
		ranking.WithWeights(weights),
		ranking.WithWorkers(cfg.ScoringWorkers),
		ranking.WithMetrics(rankingMetrics),
		ranking.WithLogger(logger),
	)

	var resolver middleware.ViewerResolver
	if cfg.JWTSecret != "" {
		if cfg.JWTPreviousSecret != "" {
			resolver = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret, auth.DefaultLeeway)
			logger.Info("JWT rotation enabled")
		} else {
			resolver = auth.NewJWTService(cfg.JWTSecret)
		}
	} else {
		logger.Warn("JWT_SECRET not set, all requests are served anonymously")
	}

	a.handler = newRouter(routerConfig{
		Feed: api.NewFeedHandlers(engine, api.FeedConfig{
			DefaultPageSize: cfg.DefaultPageSize,
			MaxPageSize:     cfg.MaxPageSize,
		}),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    dbChecker,
			RedisChecker: redisChecker,
		}),
		Registry:    reg,
		Metrics:     httpMetrics,
		Resolver:    resolver,
		Logger:      logger,
		ExposeStats: cfg.MetricsEnabled,
	})
	return a, nil
}

// routerConfig carries the handlers and middleware dependencies of the router.
type routerConfig struct {
	Feed        *api.FeedHandlers
	Health      *api.HealthHandlers
	Registry    *prometheus.Registry
	Metrics     *middleware.Metrics
	Resolver    middleware.ViewerResolver // nil disables bearer authentication
	Logger      *slog.Logger
	ExposeStats bool
}

// newRouter registers routes and applies the middleware chain:
// Tracing -> RequestID -> Logging -> HTTPMetrics -> Auth -> handler.
func newRouter(rc routerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/feed", rc.Feed.GetFeed)
	mux.HandleFunc("/health", rc.Health.Health)
	mux.HandleFunc("/ready", rc.Health.Ready)
	if rc.ExposeStats {
		mux.Handle("/metrics", promhttp.HandlerFor(rc.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, `{"service":%q,"version":%q}`, serviceName, version); err != nil {
			rc.Logger.Error("failed to write response", "error", err)
		}
	})

	var handler http.Handler = mux
	if rc.Resolver != nil {
		handler = middleware.Auth(rc.Resolver, rc.Metrics, rc.Logger)(handler)
	}
	handler = middleware.HTTPMetrics(rc.Metrics)(handler)
	handler = middleware.Logging(rc.Logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Tracing(serviceName)(handler)
	return handler
}

// compile-time checks for the store implementations wired above.
var (
	_ content.Store = (*content.PostgresStore)(nil)
	_ profile.Store = (*profile.PostgresStore)(nil)
	_ profile.Store = (*profile.CachedStore)(nil)
	_ health.Pinger = (*sql.DB)(nil)
)
