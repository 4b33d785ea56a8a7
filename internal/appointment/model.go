package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

// ActiveStatuses occupy their slot. The partial unique index on
// appointments uses the same predicate.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress}

func (s AppointmentStatus) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotHeld      SlotStatus = "held"
	SlotPast      SlotStatus = "past"
)

type Patient struct {
	ID    uuid.UUID
	Name  string
	Phone *string
	Email *string
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Active    bool
}

// ClinicService is a catalog entry. Prices are in cents.
type ClinicService struct {
	ID              uuid.UUID
	Name            string
	PriceCents      int64
	DepositPercent  int
	DurationMinutes int
	Active          bool
}

// Slot is derived on every availability query and never stored.
type Slot struct {
	Date       time.Time
	Time       schedule.Clock
	ProviderID uuid.UUID
	Status     SlotStatus
}

type Availability struct {
	ServiceID uuid.UUID
	Date      time.Time
	Open      bool
	Reason    string
	Slots     []Slot // available only
	AllSlots  []Slot
}

type Contact struct {
	Name  string
	Phone string
	Email string
}

type Hold struct {
	Token            uuid.UUID
	ProviderID       uuid.UUID
	ServiceID        uuid.UUID
	Date             time.Time
	Time             schedule.Clock
	ExpiresAt        time.Time
	ContactName      *string
	ContactPhone     *string
	ContactEmail     *string
	PaymentReference *string
	CreatedAt        time.Time
}

// Live reports whether the hold still occupies its slot at now.
func (h Hold) Live(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

// Booker holds the contact of someone booking on a patient's behalf.
type Booker struct {
	Name         string
	Phone        string
	Email        string
	Relationship string
}

type PaymentEvidence struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Ref           string
	ContentType   string
	SizeBytes     int64
	CreatedAt     time.Time
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	Date       time.Time
	Time       schedule.Clock
	Status     AppointmentStatus
	Notes      *string

	ConfirmedBy           *uuid.UUID
	ConfirmedAt           *time.Time
	CancelledBy           *uuid.UUID
	CancelledAt           *time.Time
	CancellationReason    *string
	ArrivedAt             *time.Time
	EnteredConsultationBy *uuid.UUID
	EnteredConsultationAt *time.Time
	CompletedBy           *uuid.UUID
	CompletedAt           *time.Time

	StateChangedBy     *uuid.UUID
	StateChangedAt     *time.Time
	StateChangedReason *string

	BookerName         *string
	BookerPhone        *string
	BookerEmail        *string
	BookerRelationship *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StateHistory is one immutable row of the audit ledger.
type StateHistory struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PreviousState *AppointmentStatus
	NewState      AppointmentStatus
	ActorID       *uuid.UUID
	Reason        *string
	Metadata      json.RawMessage
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	History []StateHistory
}
