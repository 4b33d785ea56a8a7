package appointment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type TransitionRequest struct {
	AppointmentID uuid.UUID
	Target        AppointmentStatus
	ActorID       uuid.UUID
	Reason        string
	Metadata      map[string]any
}

// Transition moves an appointment one step along its lifecycle and appends
// exactly one history row. Rejected requests write nothing.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", req.AppointmentID.String()),
		attribute.String("clinic.target_status", string(req.Target)),
	)

	if req.AppointmentID == uuid.Nil {
		return nil, validationError("invalid_appointment_id", "appointment id is required")
	}
	target, ok := ParseStatus(string(req.Target))
	if !ok {
		return nil, validationError("invalid_status", "unknown status %q", req.Target)
	}
	req.Target = target

	current, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, wrapRepoErr("load appointment", err)
	}
	if err := checkTransition(current.Status, req.Target, req.Reason); err != nil {
		s.metrics.ObserveTransition(string(current.Status), string(req.Target), "rejected")
		return nil, err
	}

	meta, err := marshalMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	change := StatusChange{
		AppointmentID: current.ID,
		HistoryID:     uuid.New(),
		From:          current.Status,
		To:            req.Target,
		ActorID:       optionalUUID(req.ActorID),
		Reason:        optionalString(strings.TrimSpace(req.Reason)),
		Metadata:      meta,
		At:            s.clock(),
	}

	updated, err := s.repo.ApplyTransition(ctx, change)
	if err != nil {
		span.RecordError(err)
		outcome := "error"
		if errors.Is(err, ErrStatusChanged) {
			outcome = "stale"
		}
		s.metrics.ObserveTransition(string(change.From), string(change.To), outcome)
		return nil, wrapRepoErr("apply transition", err)
	}

	s.metrics.ObserveTransition(string(change.From), string(change.To), "applied")
	s.logger.Info("appointment status changed",
		"appointment_id", updated.ID,
		"from", change.From,
		"to", change.To,
		"actor_id", req.ActorID,
	)
	return updated, nil
}

// CancelAsPatient lets the patient who owns a booking cancel it. Any other
// patient gets ErrNotAppointmentOwner and nothing is written.
func (s *Service) CancelAsPatient(ctx context.Context, appointmentID, patientID uuid.UUID, reason string) (*Appointment, error) {
	if appointmentID == uuid.Nil {
		return nil, validationError("invalid_appointment_id", "appointment id is required")
	}
	if patientID == uuid.Nil {
		return nil, validationError("invalid_patient_id", "patient id is required")
	}

	current, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, wrapRepoErr("load appointment", err)
	}
	if current.PatientID != patientID {
		s.logger.Warn("cancel refused, not the booking owner",
			"appointment_id", appointmentID,
			"patient_id", patientID,
		)
		return nil, ErrNotAppointmentOwner
	}

	return s.Transition(ctx, TransitionRequest{
		AppointmentID: appointmentID,
		Target:        StatusCancelled,
		ActorID:       patientID,
		Reason:        reason,
		Metadata:      map[string]any{"source": "patient"},
	})
}

// MarkNoShows moves confirmed appointments whose start passed more than
// NoShowGrace ago, and whose patient never arrived, to no-show. It returns
// how many were moved. Appointments that change status in the meantime are
// skipped.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.mark_no_shows")
	defer span.End()

	now := s.clock()
	cutoff := now.Add(-s.cfg.NoShowGrace)

	candidates, err := s.repo.ListConfirmedUnarrived(ctx, schedule.DateOf(cutoff.In(s.cfg.Location)))
	if err != nil {
		return 0, wrapRepoErr("list no-show candidates", err)
	}

	moved := 0
	for _, a := range candidates {
		if a.Status != StatusConfirmed || a.ArrivedAt != nil {
			continue
		}
		if schedule.At(a.Date, a.Time, s.cfg.Location).After(cutoff) {
			continue
		}
		_, err := s.Transition(ctx, TransitionRequest{
			AppointmentID: a.ID,
			Target:        StatusNoShow,
			Reason:        "patient did not arrive",
			Metadata:      map[string]any{"source": "no_show_sweep"},
		})
		if err != nil {
			if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrInvalidStatusTransition) {
				continue
			}
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		s.logger.Info("marked no-shows", "count", moved)
	}
	return moved, nil
}
