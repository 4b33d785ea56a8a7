package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type CreateHoldRequest struct {
	ProviderID       string `json:"provider_id"`
	ServiceID        string `json:"service_id"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	ContactName      string `json:"contact_name"`
	ContactPhone     string `json:"contact_phone"`
	ContactEmail     string `json:"contact_email"`
	PaymentReference string `json:"payment_reference"`
}

type BookerRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
}

type EvidenceRequest struct {
	Ref         string `json:"ref"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type CreateBookingRequest struct {
	HoldToken string          `json:"hold_token"`
	PatientID string          `json:"patient_id"`
	Booker    *BookerRequest  `json:"booker,omitempty"`
	Evidence  EvidenceRequest `json:"payment_evidence"`
	Notes     string          `json:"notes"`
}

type DirectBookingRequest struct {
	ProviderID string         `json:"provider_id"`
	ServiceID  string         `json:"service_id"`
	PatientID  string         `json:"patient_id"`
	Date       string         `json:"date"`
	Time       string         `json:"time"`
	Booker     *BookerRequest `json:"booker,omitempty"`
	Notes      string         `json:"notes"`
}

type TransitionRequest struct {
	Status   string         `json:"status"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type SlotResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Status     string    `json:"status"`
}

type AvailabilityResponse struct {
	ServiceID uuid.UUID      `json:"service_id"`
	Date      string         `json:"date"`
	Open      bool           `json:"open"`
	Reason    string         `json:"reason,omitempty"`
	Slots     []SlotResponse `json:"slots"`
}

type HoldResponse struct {
	Token      uuid.UUID `json:"token"`
	ProviderID uuid.UUID `json:"provider_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	ProviderID            uuid.UUID  `json:"provider_id"`
	ServiceID             uuid.UUID  `json:"service_id"`
	Date                  string     `json:"date"`
	Time                  string     `json:"time"`
	Status                string     `json:"status"`
	Notes                 *string    `json:"notes,omitempty"`
	ConfirmedBy           *uuid.UUID `json:"confirmed_by,omitempty"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	CancelledBy           *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason    *string    `json:"cancellation_reason,omitempty"`
	ArrivedAt             *time.Time `json:"arrived_at,omitempty"`
	EnteredConsultationBy *uuid.UUID `json:"entered_consultation_by,omitempty"`
	EnteredConsultationAt *time.Time `json:"entered_consultation_at,omitempty"`
	CompletedBy           *uuid.UUID `json:"completed_by,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	StateChangedBy        *uuid.UUID `json:"state_changed_by,omitempty"`
	StateChangedAt        *time.Time `json:"state_changed_at,omitempty"`
	StateChangedReason    *string    `json:"state_changed_reason,omitempty"`
	BookerName            *string    `json:"booker_name,omitempty"`
	BookerPhone           *string    `json:"booker_phone,omitempty"`
	BookerEmail           *string    `json:"booker_email,omitempty"`
	BookerRelationship    *string    `json:"booker_relationship,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type HistoryResponse struct {
	ID            uuid.UUID       `json:"id"`
	PreviousState *string         `json:"previous_state"`
	NewState      string          `json:"new_state"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	Reason        *string         `json:"reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	History []HistoryResponse `json:"history"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func toSlots(slots []appointment.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ProviderID: s.ProviderID,
			Date:       schedule.FormatDate(s.Date),
			Time:       s.Time.String(),
			Status:     string(s.Status),
		})
	}
	return out
}

func toHold(h *appointment.Hold) HoldResponse {
	return HoldResponse{
		Token:      h.Token,
		ProviderID: h.ProviderID,
		ServiceID:  h.ServiceID,
		Date:       schedule.FormatDate(h.Date),
		Time:       h.Time.String(),
		ExpiresAt:  h.ExpiresAt,
	}
}

func toAppointment(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                    a.ID,
		PatientID:             a.PatientID,
		ProviderID:            a.ProviderID,
		ServiceID:             a.ServiceID,
		Date:                  schedule.FormatDate(a.Date),
		Time:                  a.Time.String(),
		Status:                string(a.Status),
		Notes:                 a.Notes,
		ConfirmedBy:           a.ConfirmedBy,
		ConfirmedAt:           a.ConfirmedAt,
		CancelledBy:           a.CancelledBy,
		CancelledAt:           a.CancelledAt,
		CancellationReason:    a.CancellationReason,
		ArrivedAt:             a.ArrivedAt,
		EnteredConsultationBy: a.EnteredConsultationBy,
		EnteredConsultationAt: a.EnteredConsultationAt,
		CompletedBy:           a.CompletedBy,
		CompletedAt:           a.CompletedAt,
		StateChangedBy:        a.StateChangedBy,
		StateChangedAt:        a.StateChangedAt,
		StateChangedReason:    a.StateChangedReason,
		BookerName:            a.BookerName,
		BookerPhone:           a.BookerPhone,
		BookerEmail:           a.BookerEmail,
		BookerRelationship:    a.BookerRelationship,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

func toDetail(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	history := make([]HistoryResponse, 0, len(d.History))
	for _, h := range d.History {
		var prev *string
		if h.PreviousState != nil {
			s := string(*h.PreviousState)
			prev = &s
		}
		history = append(history, HistoryResponse{
			ID:            h.ID,
			PreviousState: prev,
			NewState:      string(h.NewState),
			ActorID:       h.ActorID,
			Reason:        h.Reason,
			Metadata:      h.Metadata,
			CreatedAt:     h.CreatedAt,
		})
	}
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointment(&d.Appointment),
		History:             history,
	}
}

func (b *BookerRequest) toDomain() *appointment.Booker {
	if b == nil {
		return nil
	}
	return &appointment.Booker{Name: b.Name, Phone: b.Phone, Email: b.Email, Relationship: b.Relationship}
}
