package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now. Expiry and past-slot checks read it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the scheduling core. locker may be nil, in which case
// Postgres alone serializes slot writers.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	if repo == nil {
		panic("appointment: repository required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now()
}

// GetAppointment returns an appointment together with its full state history.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	if id == uuid.Nil {
		return nil, validationError("invalid_appointment_id", "appointment id is required")
	}
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr("load appointment", err)
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, wrapRepoErr("load appointment history", err)
	}
	return &AppointmentDetail{Appointment: *appt, History: history}, nil
}

// ListAppointments returns every appointment of a provider on a date, any status.
func (s *Service) ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	if providerID == uuid.Nil {
		return nil, validationError("invalid_provider_id", "provider id is required")
	}
	if date.IsZero() {
		return nil, validationError("invalid_date", "date is required")
	}
	appts, err := s.repo.ListAppointments(ctx, providerID, schedule.DateOf(date))
	if err != nil {
		return nil, wrapRepoErr("list appointments", err)
	}
	return appts, nil
}

// PurgeExpiredHolds deletes holds that already lapsed. Correctness never
// depends on it; readers ignore expired holds on their own.
func (s *Service) PurgeExpiredHolds(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpiredHolds(ctx, s.clock())
	if err != nil {
		return 0, wrapRepoErr("purge expired holds", err)
	}
	s.metrics.ObservePurged(n)
	if n > 0 {
		s.logger.Info("purged expired holds", "count", n)
	}
	return n, nil
}

// wrapRepoErr passes typed errors through and marks everything else as storage.
func wrapRepoErr(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return storageError(op, err)
}

func marshalMetadata(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, validationError("invalid_metadata", "metadata is not serializable: %v", err)
	}
	return b, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func slotAttributes(providerID uuid.UUID, date time.Time, t schedule.Clock) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("clinic.provider_id", providerID.String()),
		attribute.String("clinic.slot_date", schedule.FormatDate(date)),
		attribute.String("clinic.slot_time", t.String()),
	}
}

func validClock(t schedule.Clock) error {
	if t < 0 || t >= 24*60 {
		return validationError("invalid_time", "time %d is outside the day", int(t))
	}
	return nil
}

func describeSlot(providerID uuid.UUID, date time.Time, t schedule.Clock) string {
	return fmt.Sprintf("%s %s with provider %s", schedule.FormatDate(date), t, providerID)
}
