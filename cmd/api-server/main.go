package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "timezone", cfg.ClinicTimezone)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	checks := []api.DependencyCheck{
		{Name: "postgres", Critical: true, Ping: pgPool.Ping},
	}

	// Redis is optional: without it every request goes straight to the
	// Postgres advisory lock.
	var locker redisclient.Locker
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	switch {
	case err != nil:
		logger.Warn("redis unavailable, slot fast-fail lock disabled", "error", err)
		checks = append(checks, api.DependencyCheck{Name: "redis"})
	case rdb == nil:
		checks = append(checks, api.DependencyCheck{Name: "redis"})
	default:
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		checks = append(checks, api.DependencyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedMetrics := metrics.NewSchedulingMetrics(registry)

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, locker, cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(schedMetrics),
	)

	var store *evidence.Store
	if cfg.EvidenceBucket != "" {
		s3Client, err := evidence.NewS3Client(rootCtx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			logger.Error("s3 client error", "error", err)
			os.Exit(1)
		}
		store = evidence.NewStore(s3Client, cfg.EvidenceBucket, cfg.EvidenceMaxBytes, logger)
		logger.Info("payment evidence uploads enabled", "bucket", cfg.EvidenceBucket)
	}
	if cfg.StaffJWTSecret == "" {
		logger.Warn("STAFF_JWT_SECRET not set, staff endpoints will refuse every request")
	}

	router := api.NewRouter(api.RouterConfig{
		Service:          svc,
		Evidence:         store,
		Logger:           logger,
		StaffJWTSecret:   cfg.StaffJWTSecret,
		EvidenceMaxBytes: cfg.EvidenceMaxBytes,
		Checks:           checks,
		Metrics:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Env:              cfg.Env,
		Version:          version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutting down api-server")
}
