package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// SimConfig drives a load run against a live api-server. Workers race for the
// first few open slots of one service day, so most holds collide on purpose.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	HotSlots     int
	PatientLimit int
	ServiceID    uuid.UUID
	Date         time.Time
	PostgresDSN  string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Availability OperationMetrics
	Hold         OperationMetrics
	Booking      OperationMetrics
}

type Simulator struct {
	config   SimConfig
	patients []uuid.UUID
	client   *http.Client
	logger   *logging.Logger
	metrics  Metrics
}

func main() {
	logger := logging.Default().With("service", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if cfg.ServiceID == uuid.Nil {
		if err := pgPool.QueryRow(ctx, `SELECT id FROM services WHERE active ORDER BY created_at LIMIT 1`).Scan(&cfg.ServiceID); err != nil {
			logger.Error("pick service", "error", err)
			os.Exit(1)
		}
	}

	patients, err := loadPatients(ctx, pgPool, cfg.PatientLimit)
	if err != nil {
		logger.Error("load patients", "error", err)
		os.Exit(1)
	}

	logger.Info("simulation starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"hot_slots", cfg.HotSlots,
		"service_id", cfg.ServiceID,
		"date", schedule.FormatDate(cfg.Date),
		"patients", len(patients),
	)

	sim := &Simulator{
		config:   cfg,
		patients: patients,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
	sim.Run()
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCheck()
	doubles, err := countDoubleBookings(checkCtx, pgPool)
	if err != nil {
		logger.Error("double booking check failed", "error", err)
		os.Exit(1)
	}
	if doubles > 0 {
		logger.Error("double bookings detected", "slots", doubles)
		os.Exit(2)
	}
	logger.Info("no slot holds more than one active appointment")
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	if raw := os.Getenv("SIM_SERVICE_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_SERVICE_ID: %w", err)
		}
		cfg.ServiceID = id
	}

	if raw := os.Getenv("SIM_DATE"); raw != "" {
		d, err := schedule.ParseDate(raw)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_DATE: %w", err)
		}
		cfg.Date = d
	} else {
		cfg.Date = nextOpenDay(time.Now().In(baseCfg.Location), baseCfg.ClosedWeekdays)
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		cfg.HotSlots = 1
	}
	return cfg, nil
}

func nextOpenDay(now time.Time, closed []time.Weekday) time.Time {
	d := schedule.DateOf(now).AddDate(0, 0, 1)
	for i := 0; i < 7; i++ {
		open := true
		for _, c := range closed {
			if d.Weekday() == c {
				open = false
			}
		}
		if open {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}
	return ids, nil
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status IN ('pending', 'confirmed', 'in_progress')
			GROUP BY provider_id, slot_date, slot_time
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		slots, ok := s.fetchAvailability(ctx)
		if !ok {
			continue
		}
		if len(slots) == 0 {
			// Every slot of the day is taken; keep probing until time runs out.
			select {
			case <-ctx.Done():
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		hot := min(s.config.HotSlots, len(slots))
		slot := slots[rng.Intn(hot)]
		token, ok := s.hold(ctx, slot)
		if !ok {
			continue
		}
		s.book(ctx, rng, token)
	}
}

func (s *Simulator) fetchAvailability(ctx context.Context) ([]api.SlotResponse, bool) {
	q := url.Values{}
	q.Set("service_id", s.config.ServiceID.String())
	q.Set("date", schedule.FormatDate(s.config.Date))

	var out api.AvailabilityResponse
	status, ok := s.call(ctx, &s.metrics.Availability, http.MethodGet, "/availability?"+q.Encode(), nil, &out)
	if !ok || status != http.StatusOK {
		return nil, false
	}
	return out.Slots, true
}

func (s *Simulator) hold(ctx context.Context, slot api.SlotResponse) (uuid.UUID, bool) {
	req := api.CreateHoldRequest{
		ProviderID:   slot.ProviderID.String(),
		ServiceID:    s.config.ServiceID.String(),
		Date:         slot.Date,
		Time:         slot.Time,
		ContactName:  gofakeit.Name(),
		ContactPhone: gofakeit.Phone(),
	}
	var out api.HoldResponse
	status, ok := s.call(ctx, &s.metrics.Hold, http.MethodPost, "/holds", req, &out)
	if !ok || status != http.StatusCreated {
		return uuid.Nil, false
	}
	return out.Token, true
}

func (s *Simulator) book(ctx context.Context, rng *rand.Rand, token uuid.UUID) {
	req := api.CreateBookingRequest{
		HoldToken: token.String(),
		PatientID: s.patients[rng.Intn(len(s.patients))].String(),
		Evidence: api.EvidenceRequest{
			Ref:         "sim://evidence/" + uuid.NewString() + ".png",
			ContentType: "image/png",
			SizeBytes:   int64(gofakeit.Number(10_000, 900_000)),
		},
	}
	s.call(ctx, &s.metrics.Booking, http.MethodPost, "/bookings", req, nil)
}

// call issues one request and records it. It reports false when the request
// never got a response, including when the run ended mid-flight.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, body, out any) (int, bool) {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, false
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(time.Since(start), 0)
		}
		return 0, false
	}
	defer resp.Body.Close()
	om.Record(time.Since(start), resp.StatusCode)

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, false
		}
	}
	return resp.StatusCode, true
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d (racing for %d slots)\n", s.config.Workers, s.config.HotSlots)
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Hold", &s.metrics.Hold)
	printOperationReport("Booking", &s.metrics.Booking)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
