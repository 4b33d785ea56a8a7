package appointment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

const (
	reasonNoSchedule  = "no providers are scheduled for this service on this day"
	reasonFullyBooked = "all slots for this day are taken"
	reasonInactive    = "this service is not currently offered"
)

// Availability classifies every slot of a service on a date. Slots holds
// only the bookable ones; AllSlots keeps booked, held and past slots for
// staff views. A closed or empty day is not an error.
func (s *Service) Availability(ctx context.Context, serviceID uuid.UUID, date time.Time) (*Availability, error) {
	ctx, span := tracer.Start(ctx, "appointment.availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.service_id", serviceID.String()),
		attribute.String("clinic.slot_date", schedule.FormatDate(date)),
	)

	started := time.Now()
	defer func() { s.metrics.ObserveAvailability(time.Since(started).Seconds()) }()

	if serviceID == uuid.Nil {
		return nil, validationError("invalid_service_id", "service id is required")
	}
	if date.IsZero() {
		return nil, validationError("invalid_date", "date is required")
	}

	svc, err := s.repo.GetServiceByID(ctx, serviceID)
	if err != nil {
		span.RecordError(err)
		return nil, wrapRepoErr("load service", err)
	}

	date = schedule.DateOf(date)
	if !svc.Active {
		return closedDay(serviceID, date, reasonInactive), nil
	}

	avail, err := s.classify(ctx, serviceID, date, s.clock())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return avail, nil
}

func closedDay(serviceID uuid.UUID, date time.Time, reason string) *Availability {
	return &Availability{
		ServiceID: serviceID,
		Date:      date,
		Open:      false,
		Reason:    reason,
		Slots:     []Slot{},
		AllSlots:  []Slot{},
	}
}

// classify runs the aggregation pipeline against storage at instant now.
func (s *Service) classify(ctx context.Context, serviceID uuid.UUID, date time.Time, now time.Time) (*Availability, error) {
	blocked, err := s.repo.GetBlockedDate(ctx, date)
	if err != nil {
		return nil, wrapRepoErr("load blocked date", err)
	}
	var exceptions []schedule.BlockedDate
	if blocked != nil {
		exceptions = append(exceptions, *blocked)
	}
	overlay := schedule.NewOverlay(s.cfg.ClosedWeekdays, exceptions...)
	if reason, closed := overlay.Veto(date); closed {
		return closedDay(serviceID, date, reason), nil
	}

	rules, err := s.repo.ListRulesForService(ctx, serviceID, date.Weekday())
	if err != nil {
		return nil, wrapRepoErr("load schedule rules", err)
	}

	byProvider := make(map[uuid.UUID][]schedule.Rule)
	var providers []uuid.UUID
	for _, r := range rules {
		if _, seen := byProvider[r.ProviderID]; !seen {
			providers = append(providers, r.ProviderID)
		}
		byProvider[r.ProviderID] = append(byProvider[r.ProviderID], r)
	}

	all := []Slot{}
	for _, providerID := range providers {
		slots, err := s.classifyProvider(ctx, providerID, byProvider[providerID], date, now)
		if err != nil {
			return nil, err
		}
		all = append(all, slots...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Time != all[j].Time {
			return all[i].Time < all[j].Time
		}
		return all[i].ProviderID.String() < all[j].ProviderID.String()
	})

	available := []Slot{}
	for _, sl := range all {
		if sl.Status == SlotAvailable {
			available = append(available, sl)
		}
	}

	avail := &Availability{
		ServiceID: serviceID,
		Date:      date,
		Open:      true,
		Slots:     available,
		AllSlots:  all,
	}
	switch {
	case len(all) == 0:
		avail.Reason = reasonNoSchedule
	case len(available) == 0:
		avail.Reason = reasonFullyBooked
	}
	return avail, nil
}

// classifyProvider expands one provider's rules and labels each time.
// Priority is booked, then held, then past, then available.
func (s *Service) classifyProvider(ctx context.Context, providerID uuid.UUID, rules []schedule.Rule, date time.Time, now time.Time) ([]Slot, error) {
	appts, err := s.repo.ListActiveAppointments(ctx, providerID, date)
	if err != nil {
		return nil, wrapRepoErr("load appointments", err)
	}
	holds, err := s.repo.ListLiveHolds(ctx, providerID, date, now)
	if err != nil {
		return nil, wrapRepoErr("load holds", err)
	}

	booked := make(map[schedule.Clock]bool, len(appts))
	for _, a := range appts {
		if a.Status.Active() {
			booked[a.Time] = true
		}
	}
	held := make(map[schedule.Clock]bool, len(holds))
	for _, h := range holds {
		if h.Live(now) {
			held[h.Time] = true
		}
	}

	seen := make(map[schedule.Clock]bool)
	var out []Slot
	for _, rule := range rules {
		for _, t := range schedule.Expand(rule, date) {
			if seen[t] {
				continue
			}
			seen[t] = true

			status := SlotAvailable
			switch {
			case booked[t]:
				status = SlotBooked
			case held[t]:
				status = SlotHeld
			case schedule.At(date, t, s.cfg.Location).Before(now):
				status = SlotPast
			}
			out = append(out, Slot{Date: date, Time: t, ProviderID: providerID, Status: status})
		}
	}
	return out, nil
}

// slotStatus finds one provider's slot in an aggregated view.
func (a *Availability) slotStatus(providerID uuid.UUID, t schedule.Clock) (SlotStatus, bool) {
	for _, sl := range a.AllSlots {
		if sl.ProviderID == providerID && sl.Time == t {
			return sl.Status, true
		}
	}
	return "", false
}
