package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type HoldRequest struct {
	ProviderID       uuid.UUID
	ServiceID        uuid.UUID
	Date             time.Time
	Time             schedule.Clock
	Contact          Contact
	PaymentReference string
}

func (r HoldRequest) validate() error {
	switch {
	case r.ProviderID == uuid.Nil:
		return validationError("invalid_provider_id", "provider id is required")
	case r.ServiceID == uuid.Nil:
		return validationError("invalid_service_id", "service id is required")
	case r.Date.IsZero():
		return validationError("invalid_date", "date is required")
	}
	return validClock(r.Time)
}

// CreateHold provisionally claims one available slot for HoldTTL.
// Availability is re-checked here rather than trusted from the client.
func (s *Service) CreateHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	ctx, span := tracer.Start(ctx, "appointment.create_hold")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}
	date := schedule.DateOf(req.Date)
	span.SetAttributes(slotAttributes(req.ProviderID, date, req.Time)...)

	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, wrapRepoErr("load provider", err)
	}
	svc, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, wrapRepoErr("load service", err)
	}
	if !svc.Active {
		return nil, slotUnavailable(req.ProviderID, date, req.Time, "service is not offered")
	}

	now := s.clock()
	avail, err := s.classify(ctx, req.ServiceID, date, now)
	if err != nil {
		return nil, err
	}
	status, ok := avail.slotStatus(req.ProviderID, req.Time)
	if !ok {
		s.metrics.ObserveHold("rejected")
		return nil, slotUnavailable(req.ProviderID, date, req.Time, "no such slot")
	}
	if status != SlotAvailable {
		s.metrics.ObserveHold("rejected")
		return nil, slotUnavailable(req.ProviderID, date, req.Time, string(status))
	}

	hold := Hold{
		Token:            uuid.New(),
		ProviderID:       req.ProviderID,
		ServiceID:        req.ServiceID,
		Date:             date,
		Time:             req.Time,
		ExpiresAt:        now.Add(s.cfg.HoldTTL),
		ContactName:      optionalString(strings.TrimSpace(req.Contact.Name)),
		ContactPhone:     optionalString(strings.TrimSpace(req.Contact.Phone)),
		ContactEmail:     optionalString(strings.TrimSpace(req.Contact.Email)),
		PaymentReference: optionalString(strings.TrimSpace(req.PaymentReference)),
	}

	var created *Hold
	insert := func(lockCtx context.Context) error {
		h, err := s.repo.CreateHold(lockCtx, hold, now)
		if err != nil {
			return err
		}
		created = h
		return nil
	}

	if s.locker != nil {
		err = s.locker.WithSlotLock(ctx, slotKey(req.ProviderID, date, req.Time), insert)
	} else {
		err = insert(ctx)
	}
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.ObserveHold("contended")
			return nil, ErrSlotBeingBooked
		case errors.Is(err, ErrSlotNotAvailable):
			s.metrics.ObserveHold("rejected")
			return nil, err
		}
		s.metrics.ObserveHold("error")
		return nil, wrapRepoErr("create hold", err)
	}

	s.metrics.ObserveHold("created")
	s.logger.Info("hold created",
		"token", created.Token,
		"provider_id", created.ProviderID,
		"slot_date", schedule.FormatDate(created.Date),
		"slot_time", created.Time.String(),
		"expires_at", created.ExpiresAt,
	)
	return created, nil
}

// ValidateHold returns the hold if it still occupies its slot. An expired
// hold is reported exactly like a released slot.
func (s *Service) ValidateHold(ctx context.Context, token uuid.UUID) (*Hold, error) {
	if token == uuid.Nil {
		return nil, validationError("invalid_hold_token", "hold token is required")
	}
	h, err := s.repo.GetHold(ctx, token)
	if err != nil {
		return nil, wrapRepoErr("load hold", err)
	}
	if !h.Live(s.clock()) {
		return nil, ErrHoldExpired
	}
	return h, nil
}

func slotUnavailable(providerID uuid.UUID, date time.Time, t schedule.Clock, why string) error {
	return &Error{
		Kind:    KindConflict,
		Code:    ErrSlotNotAvailable.Code,
		Message: fmt.Sprintf("slot %s is not available (%s)", describeSlot(providerID, date, t), why),
	}
}
