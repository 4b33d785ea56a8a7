package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidClock = errors.New("time must be HH:MM")
	ErrInvalidDate  = errors.New("date must be YYYY-MM-DD")
	ErrInvalidRule  = errors.New("invalid schedule rule")
)

// Clock is a clinic-local wall-clock time of day, in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (seconds are accepted and ignored when present).
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ParseDate parses YYYY-MM-DD into UTC midnight. Dates carry no zone;
// use At to place a slot on the clinic clock.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// DateOf strips the time of day, keeping the calendar date as seen in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// At returns the instant a slot starts on the clinic clock.
func At(date time.Time, c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), int(c)/60, int(c)%60, 0, 0, loc)
}

// Rule is a recurring weekly availability template for one provider.
// A nil ServiceID makes the rule apply to every service the provider offers.
type Rule struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	ServiceID   *uuid.UUID
	Weekday     time.Weekday
	Start       Clock
	End         Clock
	SlotMinutes int
	Active      bool
}

func (r Rule) Validate() error {
	switch {
	case r.Weekday < time.Sunday || r.Weekday > time.Saturday:
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, r.Weekday)
	case r.Start < 0 || r.End > 24*60:
		return fmt.Errorf("%w: window %s-%s out of range", ErrInvalidRule, r.Start, r.End)
	case r.Start >= r.End:
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRule, r.Start, r.End)
	case r.SlotMinutes <= 0:
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidRule)
	}
	return nil
}

// Expand returns the slot start times the rule produces on date, in order.
// A trailing remainder shorter than one slot is dropped. Inactive or
// invalid rules and weekday mismatches yield nothing.
func Expand(r Rule, date time.Time) []Clock {
	if !r.Active || r.Validate() != nil || date.Weekday() != r.Weekday {
		return nil
	}

	step := Clock(r.SlotMinutes)
	out := make([]Clock, 0, int(r.End-r.Start)/r.SlotMinutes)
	for t := r.Start; t+step <= r.End; t += step {
		out = append(out, t)
	}
	return out
}
