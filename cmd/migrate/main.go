package main

import (
	"os"
	"strconv"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// Usage:
//
//	migrate              apply every pending migration
//	migrate force <ver>  mark the schema as <ver> after a failed run
func main() {
	logger := logging.Default().With("service", "migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	if len(os.Args) >= 3 && os.Args[1] == "force" {
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Error("invalid version", "value", os.Args[2], "error", err)
			os.Exit(1)
		}
		if err := db.Force(cfg.PostgresDSN, version); err != nil {
			logger.Error("force version failed", "error", err)
			os.Exit(1)
		}
		logger.Info("forced schema version", "version", version)
		return
	}

	version, err := db.Migrate(cfg.PostgresDSN)
	if err != nil {
		logger.Error("migrate up failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "version", version)
}
