package schedule

import (
	"time"

	"github.com/google/uuid"
)

// BlockedDate is a clinic-wide calendar exception.
type BlockedDate struct {
	ID     uuid.UUID
	Date   time.Time
	Reason string
	Active bool
}

// Overlay answers whether a date is closed before any slot is generated.
type Overlay struct {
	closedWeekdays map[time.Weekday]bool
	blocked        map[string]BlockedDate
}

func NewOverlay(closedWeekdays []time.Weekday, blocked ...BlockedDate) *Overlay {
	o := &Overlay{
		closedWeekdays: make(map[time.Weekday]bool, len(closedWeekdays)),
		blocked:        make(map[string]BlockedDate, len(blocked)),
	}
	for _, d := range closedWeekdays {
		o.closedWeekdays[d] = true
	}
	for _, b := range blocked {
		if !b.Active {
			continue
		}
		o.blocked[FormatDate(b.Date)] = b
	}
	return o
}

// Veto reports whether date is closed and why.
func (o *Overlay) Veto(date time.Time) (string, bool) {
	if o == nil {
		return "", false
	}
	if b, ok := o.blocked[FormatDate(date)]; ok {
		reason := b.Reason
		if reason == "" {
			reason = "clinic closed"
		}
		return reason, true
	}
	if o.closedWeekdays[date.Weekday()] {
		return "clinic closed on " + date.Weekday().String(), true
	}
	return "", false
}
