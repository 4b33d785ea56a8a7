package appointment

import (
	"fmt"
	"strings"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// ParseStatus accepts the wire names of the lifecycle states.
func ParseStatus(s string) (AppointmentStatus, bool) {
	st := AppointmentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, true
	}
	return "", false
}

// Terminal states accept no further transitions.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition validates a requested transition before anything is written.
func checkTransition(from, to AppointmentStatus, reason string) error {
	if !CanTransition(from, to) {
		return &Error{
			Kind:    KindConflict,
			Code:    ErrInvalidStatusTransition.Code,
			Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
		}
	}
	if to == StatusCancelled && strings.TrimSpace(reason) == "" {
		return validationError("cancellation_reason_required", "a cancellation reason is required")
	}
	return nil
}
