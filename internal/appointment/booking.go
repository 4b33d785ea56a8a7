package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type BookingRequest struct {
	HoldToken uuid.UUID
	PatientID uuid.UUID
	Booker    *Booker
	Evidence  evidence.Evidence
	Notes     string
}

type DirectBookingRequest struct {
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	PatientID  uuid.UUID
	Date       time.Time
	Time       schedule.Clock
	ActorID    uuid.UUID
	Booker     *Booker
	Notes      string
}

func validateBooker(b *Booker) error {
	if b == nil {
		return nil
	}
	if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.Phone) == "" {
		return validationError("invalid_booker", "booker name and phone are required when booking for someone else")
	}
	return nil
}

func (s *Service) validateEvidence(ev evidence.Evidence) error {
	if err := ev.Validate(s.cfg.EvidenceMaxBytes); err != nil {
		return &Error{Kind: KindValidation, Code: "invalid_payment_evidence", Message: err.Error(), Err: err}
	}
	return nil
}

func applyBooker(a *Appointment, b *Booker) {
	if b == nil {
		return
	}
	a.BookerName = optionalString(strings.TrimSpace(b.Name))
	a.BookerPhone = optionalString(strings.TrimSpace(b.Phone))
	a.BookerEmail = optionalString(strings.TrimSpace(b.Email))
	a.BookerRelationship = optionalString(strings.TrimSpace(b.Relationship))
}

// Book converts a live hold plus payment evidence into a pending appointment.
// Appointment, creation history row, hold removal and evidence link commit
// together or not at all. Losing a race for the slot returns
// ErrSlotNoLongerAvailable and leaves the caller's hold untouched.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.hold_token", req.HoldToken.String()))

	if req.HoldToken == uuid.Nil {
		return nil, validationError("invalid_hold_token", "hold token is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, validationError("invalid_patient_id", "patient id is required")
	}
	if err := s.validateEvidence(req.Evidence); err != nil {
		return nil, err
	}
	if err := validateBooker(req.Booker); err != nil {
		return nil, err
	}

	hold, err := s.ValidateHold(ctx, req.HoldToken)
	if err != nil {
		s.metrics.ObserveBooking(CodeOf(err))
		return nil, err
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, wrapRepoErr("load patient", err)
	}

	now := s.clock()
	reason := "booked online"
	appt := Appointment{
		ID:                 uuid.New(),
		PatientID:          req.PatientID,
		Status:             StatusPending,
		Notes:              optionalString(strings.TrimSpace(req.Notes)),
		StateChangedAt:     &now,
		StateChangedReason: &reason,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyBooker(&appt, req.Booker)

	metadata := map[string]any{"hold_token": hold.Token.String(), "evidence_ref": req.Evidence.Ref}
	if hold.PaymentReference != nil {
		metadata["payment_reference"] = *hold.PaymentReference
	}
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	rec := BookingRecord{
		HoldToken:   req.HoldToken,
		Appointment: appt,
		History: StateHistory{
			ID:        uuid.New(),
			NewState:  StatusPending,
			Reason:    &reason,
			Metadata:  meta,
			CreatedAt: now,
		},
		Evidence: PaymentEvidence{
			ID:          uuid.New(),
			Ref:         req.Evidence.Ref,
			ContentType: evidence.NormalizeContentType(req.Evidence.ContentType),
			SizeBytes:   req.Evidence.SizeBytes,
			CreatedAt:   now,
		},
	}

	created, err := s.repo.CompleteBooking(ctx, rec, now)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking(CodeOf(err))
		if errors.Is(err, ErrSlotNoLongerAvailable) {
			s.logger.Warn("booking lost slot race",
				"hold_token", req.HoldToken,
				"provider_id", hold.ProviderID,
				"slot_date", schedule.FormatDate(hold.Date),
				"slot_time", hold.Time.String(),
			)
		}
		return nil, wrapRepoErr("complete booking", err)
	}

	s.metrics.ObserveBooking("created")
	s.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"patient_id", created.PatientID,
		"provider_id", created.ProviderID,
		"slot_date", schedule.FormatDate(created.Date),
		"slot_time", created.Time.String(),
	)
	return created, nil
}

// BookDirect lets staff book an available slot without going through a
// hold. The appointment starts confirmed, with the acting staff member as
// confirmer.
func (s *Service) BookDirect(ctx context.Context, req DirectBookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.book_direct")
	defer span.End()

	switch {
	case req.ProviderID == uuid.Nil:
		return nil, validationError("invalid_provider_id", "provider id is required")
	case req.ServiceID == uuid.Nil:
		return nil, validationError("invalid_service_id", "service id is required")
	case req.PatientID == uuid.Nil:
		return nil, validationError("invalid_patient_id", "patient id is required")
	case req.ActorID == uuid.Nil:
		return nil, validationError("invalid_actor", "an authenticated staff actor is required")
	case req.Date.IsZero():
		return nil, validationError("invalid_date", "date is required")
	}
	if err := validClock(req.Time); err != nil {
		return nil, err
	}
	if err := validateBooker(req.Booker); err != nil {
		return nil, err
	}

	date := schedule.DateOf(req.Date)
	span.SetAttributes(slotAttributes(req.ProviderID, date, req.Time)...)

	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, wrapRepoErr("load provider", err)
	}
	if _, err := s.repo.GetServiceByID(ctx, req.ServiceID); err != nil {
		return nil, wrapRepoErr("load service", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, wrapRepoErr("load patient", err)
	}

	now := s.clock()
	avail, err := s.classify(ctx, req.ServiceID, date, now)
	if err != nil {
		return nil, err
	}
	status, ok := avail.slotStatus(req.ProviderID, req.Time)
	if !ok {
		return nil, slotUnavailable(req.ProviderID, date, req.Time, "no such slot")
	}
	if status != SlotAvailable {
		return nil, slotUnavailable(req.ProviderID, date, req.Time, string(status))
	}

	actor := req.ActorID
	reason := "booked by staff"
	appt := Appointment{
		ID:                 uuid.New(),
		PatientID:          req.PatientID,
		ProviderID:         req.ProviderID,
		ServiceID:          req.ServiceID,
		Date:               date,
		Time:               req.Time,
		Status:             StatusConfirmed,
		Notes:              optionalString(strings.TrimSpace(req.Notes)),
		ConfirmedBy:        &actor,
		ConfirmedAt:        &now,
		StateChangedBy:     &actor,
		StateChangedAt:     &now,
		StateChangedReason: &reason,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyBooker(&appt, req.Booker)

	history := StateHistory{
		ID:        uuid.New(),
		NewState:  StatusConfirmed,
		ActorID:   &actor,
		Reason:    &reason,
		CreatedAt: now,
	}

	created, err := s.repo.CreateAppointment(ctx, appt, history, now)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking(CodeOf(err))
		return nil, wrapRepoErr("create appointment", err)
	}

	s.metrics.ObserveBooking("created_direct")
	s.logger.Info("appointment booked by staff",
		"appointment_id", created.ID,
		"actor_id", actor,
		"provider_id", created.ProviderID,
		"slot_date", schedule.FormatDate(created.Date),
		"slot_time", created.Time.String(),
	)
	return created, nil
}
