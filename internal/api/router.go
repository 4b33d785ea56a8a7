package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// SchedulingService is what the handlers need from appointment.Service.
type SchedulingService interface {
	Availability(ctx context.Context, serviceID uuid.UUID, date time.Time) (*appointment.Availability, error)
	CreateHold(ctx context.Context, req appointment.HoldRequest) (*appointment.Hold, error)
	ValidateHold(ctx context.Context, token uuid.UUID) (*appointment.Hold, error)
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	BookDirect(ctx context.Context, req appointment.DirectBookingRequest) (*appointment.Appointment, error)
	Transition(ctx context.Context, req appointment.TransitionRequest) (*appointment.Appointment, error)
	CancelAsPatient(ctx context.Context, appointmentID, patientID uuid.UUID, reason string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
}

// EvidenceUploader stores an uploaded proof of payment.
type EvidenceUploader interface {
	Enabled() bool
	Put(ctx context.Context, contentType string, r io.Reader) (*evidence.Evidence, error)
}

type RouterConfig struct {
	Service          SchedulingService
	Evidence         EvidenceUploader
	Logger           *logging.Logger
	StaffJWTSecret   string
	EvidenceMaxBytes int64
	Checks           []DependencyCheck
	Metrics          http.Handler
	Env              string
	Version          string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.EvidenceMaxBytes <= 0 {
		cfg.EvidenceMaxBytes = evidence.DefaultMaxBytes
	}
	h := &handlers{
		svc:      cfg.Service,
		evidence: cfg.Evidence,
		logger:   cfg.Logger,
		maxBytes: cfg.EvidenceMaxBytes,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Public booking flow
	r.Get("/availability", h.availability(false))
	r.Post("/holds", h.createHold)
	r.Get("/holds/{token}", h.getHold)
	r.Post("/bookings", h.createBooking)

	// Patient endpoints
	r.With(PatientAuth(cfg.StaffJWTSecret)).Post("/appointments/{id}/cancel", h.cancelAsPatient)

	// Staff endpoints
	r.Route("/staff", func(r chi.Router) {
		r.Use(StaffAuth(cfg.StaffJWTSecret))
		r.Get("/availability", h.availability(true))
		r.Post("/appointments", h.bookDirect)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/transitions", h.transition)
	})

	return r
}
