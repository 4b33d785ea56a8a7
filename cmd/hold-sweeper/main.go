package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "hold-sweeper", "env", cfg.Env)
	logger.Info("hold-sweeper starting up", "interval", cfg.WorkerInterval, "no_show_sweep", cfg.NoShowSweep)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Holds expire lazily on read; the sweeper only reclaims rows, so it
	// needs no slot lock.
	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, cfg, appointment.WithLogger(logger))

	// Run once at startup
	runOnce(rootCtx, svc, cfg.NoShowSweep, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping hold sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.NoShowSweep, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, noShows bool, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	purged, err := svc.PurgeExpiredHolds(runCtx)
	if err != nil {
		logger.Error("hold sweep failed", "error", err)
		return
	}

	marked := 0
	if noShows {
		marked, err = svc.MarkNoShows(runCtx)
		if err != nil {
			logger.Error("no-show sweep failed", "error", err)
		}
	}
	logger.Info("sweep complete", "purged_holds", purged, "no_shows", marked, "duration", time.Since(start))
}
