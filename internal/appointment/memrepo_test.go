package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type slotID struct {
	provider uuid.UUID
	date     string
	time     schedule.Clock
}

// memRepo is a Repository held in memory. One mutex stands in for the slot
// lock, and the uniqueness checks mirror the database constraints.
type memRepo struct {
	mu sync.Mutex

	patients  map[uuid.UUID]Patient
	providers map[uuid.UUID]Provider
	services  map[uuid.UUID]ClinicService
	blocked   map[string]schedule.BlockedDate
	rules     []schedule.Rule
	offers    map[uuid.UUID][]uuid.UUID // provider -> services

	holds        map[uuid.UUID]Hold
	appointments map[uuid.UUID]Appointment
	history      []StateHistory
	evidence     []PaymentEvidence

	// beforeBookingInsert runs inside CompleteBooking after the hold is
	// validated, with the mutex released, so tests can interleave writers.
	beforeBookingInsert func()
	failWith            error
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     map[uuid.UUID]Patient{},
		providers:    map[uuid.UUID]Provider{},
		services:     map[uuid.UUID]ClinicService{},
		blocked:      map[string]schedule.BlockedDate{},
		offers:       map[uuid.UUID][]uuid.UUID{},
		holds:        map[uuid.UUID]Hold{},
		appointments: map[uuid.UUID]Appointment{},
	}
}

func (r *memRepo) addProvider(name string, services ...uuid.UUID) uuid.UUID {
	id := uuid.New()
	r.providers[id] = Provider{ID: id, Name: name, Active: true}
	r.offers[id] = append(r.offers[id], services...)
	return id
}

func (r *memRepo) addService(name string) uuid.UUID {
	id := uuid.New()
	r.services[id] = ClinicService{ID: id, Name: name, PriceCents: 10000, DepositPercent: 50, DurationMinutes: 60, Active: true}
	return id
}

func (r *memRepo) addPatient(name string) uuid.UUID {
	id := uuid.New()
	r.patients[id] = Patient{ID: id, Name: name}
	return id
}

func (r *memRepo) addRule(providerID uuid.UUID, serviceID *uuid.UUID, day time.Weekday, start, end string, minutes int) {
	s, _ := schedule.ParseClock(start)
	e, _ := schedule.ParseClock(end)
	r.rules = append(r.rules, schedule.Rule{
		ID: uuid.New(), ProviderID: providerID, ServiceID: serviceID, Weekday: day,
		Start: s, End: e, SlotMinutes: minutes, Active: true,
	})
}

func (r *memRepo) block(date time.Time, reason string) {
	r.blocked[schedule.FormatDate(date)] = schedule.BlockedDate{ID: uuid.New(), Date: date, Reason: reason, Active: true}
}

func (r *memRepo) historyFor(id uuid.UUID) []StateHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StateHistory
	for _, h := range r.history {
		if h.AppointmentID == id {
			out = append(out, h)
		}
	}
	return out
}

func (r *memRepo) holdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holds)
}

func (r *memRepo) appointmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

func slotOf(provider uuid.UUID, date time.Time, t schedule.Clock) slotID {
	return slotID{provider: provider, date: schedule.FormatDate(date), time: t}
}

func (r *memRepo) activeAt(s slotID) bool {
	for _, a := range r.appointments {
		if a.Status.Active() && slotOf(a.ProviderID, a.Date, a.Time) == s {
			return true
		}
	}
	return false
}

func (r *memRepo) holdAt(s slotID) (Hold, bool) {
	for _, h := range r.holds {
		if slotOf(h.ProviderID, h.Date, h.Time) == s {
			return h, true
		}
	}
	return Hold{}, false
}

func (r *memRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *memRepo) GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *memRepo) GetBlockedDate(ctx context.Context, date time.Time) (*schedule.BlockedDate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	b, ok := r.blocked[schedule.FormatDate(date)]
	if !ok || !b.Active {
		return nil, nil
	}
	return &b, nil
}

func (r *memRepo) providesService(provider, service uuid.UUID) bool {
	for _, s := range r.offers[provider] {
		if s == service {
			return true
		}
	}
	return false
}

func (r *memRepo) ListRulesForService(ctx context.Context, serviceID uuid.UUID, weekday time.Weekday) ([]schedule.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.Rule
	for _, rule := range r.rules {
		if !rule.Active || rule.Weekday != weekday || !r.providers[rule.ProviderID].Active {
			continue
		}
		if rule.ServiceID != nil && *rule.ServiceID != serviceID {
			continue
		}
		if rule.ServiceID == nil && !r.providesService(rule.ProviderID, serviceID) {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (r *memRepo) ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ProviderID == providerID && schedule.FormatDate(a.Date) == schedule.FormatDate(date) && a.Status.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListLiveHolds(ctx context.Context, providerID uuid.UUID, date time.Time, now time.Time) ([]Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Hold
	for _, h := range r.holds {
		if h.ProviderID == providerID && schedule.FormatDate(h.Date) == schedule.FormatDate(date) && h.Live(now) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memRepo) CreateHold(ctx context.Context, h Hold, now time.Time) (*Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := slotOf(h.ProviderID, h.Date, h.Time)
	if r.activeAt(slot) {
		return nil, ErrSlotNotAvailable
	}
	if existing, ok := r.holdAt(slot); ok {
		if existing.Live(now) {
			return nil, ErrSlotNotAvailable
		}
		delete(r.holds, existing.Token)
	}
	h.CreatedAt = now
	r.holds[h.Token] = h
	return &h, nil
}

func (r *memRepo) GetHold(ctx context.Context, token uuid.UUID) (*Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[token]
	if !ok {
		return nil, ErrHoldNotFound
	}
	return &h, nil
}

func (r *memRepo) PurgeExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, h := range r.holds {
		if !h.Live(now) {
			delete(r.holds, token)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CompleteBooking(ctx context.Context, rec BookingRecord, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	hold, ok := r.holds[rec.HoldToken]
	r.mu.Unlock()
	if !ok {
		return nil, ErrHoldNotFound
	}
	if !hold.Live(now) {
		return nil, ErrHoldExpired
	}
	if r.beforeBookingInsert != nil {
		r.beforeBookingInsert()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holds[rec.HoldToken]; !ok {
		return nil, ErrHoldNotFound
	}
	slot := slotOf(hold.ProviderID, hold.Date, hold.Time)
	if r.activeAt(slot) {
		return nil, ErrSlotNoLongerAvailable
	}

	appt := rec.Appointment
	appt.ProviderID = hold.ProviderID
	appt.ServiceID = hold.ServiceID
	appt.Date = hold.Date
	appt.Time = hold.Time
	r.appointments[appt.ID] = appt

	h := rec.History
	h.AppointmentID = appt.ID
	r.history = append(r.history, h)

	delete(r.holds, hold.Token)

	ev := rec.Evidence
	ev.AppointmentID = appt.ID
	r.evidence = append(r.evidence, ev)
	return &appt, nil
}

func (r *memRepo) CreateAppointment(ctx context.Context, appt Appointment, history StateHistory, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := slotOf(appt.ProviderID, appt.Date, appt.Time)
	if h, ok := r.holdAt(slot); ok && h.Live(now) {
		return nil, ErrSlotNotAvailable
	}
	if r.activeAt(slot) {
		return nil, ErrSlotNotAvailable
	}
	r.appointments[appt.ID] = appt
	history.AppointmentID = appt.ID
	r.history = append(r.history, history)
	return &appt, nil
}

func (r *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ProviderID == providerID && schedule.FormatDate(a.Date) == schedule.FormatDate(date) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *memRepo) ListConfirmedUnarrived(ctx context.Context, onOrBefore time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.ArrivedAt == nil && !a.Date.After(onOrBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StateHistory, error) {
	return r.historyFor(appointmentID), nil
}

func (r *memRepo) ApplyTransition(ctx context.Context, change StatusChange) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[change.AppointmentID]
	if !ok || a.Status != change.From {
		return nil, ErrStatusChanged
	}

	at := change.At
	switch change.To {
	case StatusConfirmed:
		a.ConfirmedBy, a.ConfirmedAt = change.ActorID, &at
	case StatusCancelled:
		a.CancelledBy, a.CancelledAt, a.CancellationReason = change.ActorID, &at, change.Reason
	case StatusInProgress:
		a.EnteredConsultationBy, a.EnteredConsultationAt = change.ActorID, &at
		if a.ArrivedAt == nil {
			a.ArrivedAt = &at
		}
	case StatusCompleted:
		a.CompletedBy, a.CompletedAt = change.ActorID, &at
	}
	a.Status = change.To
	a.StateChangedBy, a.StateChangedAt, a.StateChangedReason = change.ActorID, &at, change.Reason
	a.UpdatedAt = at
	r.appointments[a.ID] = a

	from := change.From
	r.history = append(r.history, StateHistory{
		ID: change.HistoryID, AppointmentID: a.ID, PreviousState: &from, NewState: change.To,
		ActorID: change.ActorID, Reason: change.Reason, Metadata: change.Metadata, CreatedAt: at,
	})
	return &a, nil
}
