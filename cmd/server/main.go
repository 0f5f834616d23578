package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"posadmin/backend/internal/cache"
	"posadmin/backend/internal/config"
	"posadmin/backend/internal/forecast"
	"posadmin/backend/internal/httpapi"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/service"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/store/memory"
	pgstore "posadmin/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	logg := logger.New(logger.Options{ServiceName: "posadmin-api"})
	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "posadmin-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)
	requireResource(ctx, logg, "security config", validateSecurityConfig(*cfg))

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var (
		repo    store.Repository
		ready   func(context.Context) error
		closers []func() error
	)

	if cfg.DB.URL != "" {
		pg, err := pgstore.New(startCtx, cfg.DB)
		requireResource(ctx, logg, "database", err)
		closers = append(closers, pg.Close)
		if cfg.DB.AutoMigrate {
			requireResource(ctx, logg, "migrations", pg.Migrate(startCtx))
		}
		repo = pg
		ready = pg.Ping
		logg.Info(logg.WithField(ctx, "repository", "postgres"), "storage ready")
	} else {
		seededFromEnv := memory.SeedCredentialsFromEnv()
		requireResource(ctx, logg, "seed credentials", checkSeedCredentials(cfg.App, seededFromEnv))
		if !seededFromEnv {
			logg.Warn(ctx, "SEED_OWNER_PASSWORD/SEED_CASHIER_PASSWORD not set, seed accounts use default dev passwords")
		}
		repo = memory.NewSeededStore(cfg.App.DefaultStoreID)
		logg.Warn(logg.WithFields(ctx, map[string]any{"repository": "memory", "store_id": cfg.App.DefaultStoreID}), "DATABASE_URL not set, using seeded in-memory store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var forecastCache cache.ForecastCache = cache.NoopForecastCache{}
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisForecastCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(startCtx); err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis unavailable, forecast cache disabled")
			_ = redisCache.Close()
		} else {
			forecastCache = redisCache
			closers = append(closers, redisCache.Close)
			logg.Info(logg.WithField(ctx, "cache", "redis"), "forecast cache ready")
		}
	}

	forecastOpts := forecast.Options{
		Cache:    forecastCache,
		CacheTTL: cfg.Redis.ForecastTTL,
		Timeout:  cfg.GenAI.Timeout,
		Logger:   logg,
		Recorder: m,
	}
	if cfg.GenAI.APIKey != "" {
		gen, err := forecast.NewGeminiGenerator(startCtx, cfg.GenAI.APIKey, cfg.GenAI.Model)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "genai client unavailable, forecasting disabled")
		} else {
			forecastOpts.Generator = gen
			logg.Info(logg.WithField(ctx, "model", cfg.GenAI.Model), "forecasting enabled")
		}
	}

	sessions := session.NewManager(rbac.NewResolver(repo, logg), logg)
	svc := service.New(service.Options{
		Repo:        repo,
		Sessions:    sessions,
		Forecasts:   forecast.NewService(forecastOpts),
		Logger:      logg,
		Metrics:     m,
		StockPolicy: cfg.StockPolicy(),
	})
	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.AccessTokenTTL, svc, sessions, logg)
	api := httpapi.New(httpapi.Options{
		Service:        svc,
		Auth:           auth,
		Logger:         logg,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.App.AllowedOrigins,
		LoginAttempts:  cfg.Auth.LoginAttempts,
		Ready:          ready,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.Address()), "api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	for _, closeFn := range closers {
		closeErr = multierr.Append(closeErr, closeFn())
	}
	if closeErr != nil {
		logg.Error(ctx, "shutdown finished with errors", closeErr)
	}

	logg.Info(ctx, "server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if !cfg.App.IsDev() {
		for _, origin := range cfg.App.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins outside dev")
			}
		}
	}
	return nil
}

// checkSeedCredentials refuses the default seed passwords outside dev.
func checkSeedCredentials(app config.AppConfig, fromEnv bool) error {
	if fromEnv || app.IsDev() {
		return nil
	}
	return fmt.Errorf("SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD must be set outside dev")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
