package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// BookingRecord is everything the booking transaction writes at once.
// The appointment's provider, service, date and time are taken from the
// locked hold row, not from the caller.
type BookingRecord struct {
	HoldToken   uuid.UUID
	Appointment Appointment
	History     StateHistory
	Evidence    PaymentEvidence
}

// StatusChange is a guarded single-row status update plus its ledger row.
type StatusChange struct {
	AppointmentID uuid.UUID
	HistoryID     uuid.UUID
	From          AppointmentStatus
	To            AppointmentStatus
	ActorID       *uuid.UUID
	Reason        *string
	Metadata      json.RawMessage
	At            time.Time
}

// Repository contains all DB interactions needed by the service.
// Methods that write more than one row are atomic.
type Repository interface {
	// Directory lookups
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error)

	// Availability inputs. GetBlockedDate returns nil, nil when the date is open.
	GetBlockedDate(ctx context.Context, date time.Time) (*schedule.BlockedDate, error)
	ListRulesForService(ctx context.Context, serviceID uuid.UUID, weekday time.Weekday) ([]schedule.Rule, error)
	ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)
	ListLiveHolds(ctx context.Context, providerID uuid.UUID, date time.Time, now time.Time) ([]Hold, error)

	// Holds
	CreateHold(ctx context.Context, h Hold, now time.Time) (*Hold, error)
	GetHold(ctx context.Context, token uuid.UUID) (*Hold, error)
	PurgeExpiredHolds(ctx context.Context, now time.Time) (int64, error)

	// Appointment creation
	CompleteBooking(ctx context.Context, rec BookingRecord, now time.Time) (*Appointment, error)
	CreateAppointment(ctx context.Context, appt Appointment, history StateHistory, now time.Time) (*Appointment, error)

	// Lifecycle
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)
	ListConfirmedUnarrived(ctx context.Context, onOrBefore time.Time) ([]Appointment, error)
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StateHistory, error)
	ApplyTransition(ctx context.Context, change StatusChange) (*Appointment, error)
}

// slotKey identifies a (provider, date, time) slot for locking.
func slotKey(providerID uuid.UUID, date time.Time, t schedule.Clock) string {
	return fmt.Sprintf("slot:%s:%s:%s", providerID, schedule.FormatDate(date), t)
}
