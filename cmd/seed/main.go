package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

type shift struct {
	start, end string
	slot       int
}

var (
	specialties = []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Pediatrics",
		"Gynecology",
		"Nutrition",
		"Psychology",
		"Ophthalmology",
	}

	services = []struct {
		name     string
		price    int64
		deposit  int
		duration int
	}{
		{"General consultation", 8000, 50, 30},
		{"Specialist consultation", 15000, 50, 60},
		{"Follow-up visit", 5000, 30, 30},
		{"Lab results review", 4000, 0, 30},
	}

	shifts = []shift{
		{"09:00", "13:00", 60},
		{"15:00", "18:00", 30},
	}
)

func main() {
	providers := flag.Int("providers", 12, "number of providers to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	flag.Parse()

	logger := logging.Default().With("service", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	serviceIDs, err := seedServices(ctx, pool)
	if err != nil {
		logger.Error("seed services", "error", err)
		os.Exit(1)
	}
	if err := seedProviders(ctx, pool, *providers, serviceIDs, cfg.ClosedWeekdays); err != nil {
		logger.Error("seed providers", "error", err)
		os.Exit(1)
	}
	if err := seedPatients(ctx, pool, *patients); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}

	for i, id := range serviceIDs {
		logger.Info("service ready", "name", services[i].name, "service_id", id)
	}
	logger.Info("seed complete", "providers", *providers, "patients", *patients)
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(services))
	for _, s := range services {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO services (id, name, price_cents, deposit_percent, duration_minutes)
			VALUES ($1, $2, $3, $4, $5)
		`, id, s.name, s.price, s.deposit, s.duration)
		if err != nil {
			return nil, fmt.Errorf("insert service %q: %w", s.name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedProviders creates providers that each offer a random subset of the
// services, with a morning and an afternoon shift on every open weekday.
func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int, serviceIDs []uuid.UUID, closed []time.Weekday) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	isClosed := make(map[time.Weekday]bool, len(closed))
	for _, d := range closed {
		isClosed[d] = true
	}

	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty) VALUES ($1, $2, $3)
		`, id, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)])
		if err != nil {
			return fmt.Errorf("insert provider: %w", err)
		}

		offered := 0
		for _, sid := range serviceIDs {
			if offered > 0 && !gofakeit.Bool() {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO provider_services (provider_id, service_id) VALUES ($1, $2)
			`, id, sid); err != nil {
				return fmt.Errorf("insert provider service: %w", err)
			}
			offered++
		}

		for day := time.Sunday; day <= time.Saturday; day++ {
			if isClosed[day] {
				continue
			}
			for _, s := range shifts {
				if _, err := tx.Exec(ctx, `
					INSERT INTO schedule_rules (provider_id, day_of_week, start_time, end_time, slot_minutes)
					VALUES ($1, $2, $3, $4, $5)
				`, id, int16(day), s.start, s.end, s.slot); err != nil {
					return fmt.Errorf("insert schedule rule: %w", err)
				}
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Phone(), gofakeit.Email()})
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "name", "phone", "email"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy patients: %w", err)
	}
	if int(n) != count {
		return fmt.Errorf("copy patients: wrote %d of %d rows", n, count)
	}
	return nil
}
