package appointment

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindStorage    Kind = "storage"
)

// Error carries a kind for the caller to branch on and a stable code for clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code, so sentinels survive being
// re-created with a more specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

var (
	ErrPatientNotFound     = &Error{Kind: KindNotFound, Code: "patient_not_found", Message: "patient not found"}
	ErrProviderNotFound    = &Error{Kind: KindNotFound, Code: "provider_not_found", Message: "provider not found"}
	ErrServiceNotFound     = &Error{Kind: KindNotFound, Code: "service_not_found", Message: "service not found"}
	ErrHoldNotFound        = &Error{Kind: KindNotFound, Code: "hold_not_found", Message: "hold not found"}
	ErrAppointmentNotFound = &Error{Kind: KindNotFound, Code: "appointment_not_found", Message: "appointment not found"}

	ErrSlotNotAvailable        = &Error{Kind: KindConflict, Code: "slot_not_available", Message: "slot is not available"}
	ErrSlotNoLongerAvailable   = &Error{Kind: KindConflict, Code: "slot_no_longer_available", Message: "slot no longer available, please pick another slot"}
	ErrSlotBeingBooked         = &Error{Kind: KindConflict, Code: "slot_being_booked", Message: "slot is currently being booked, please pick another slot"}
	ErrHoldExpired             = &Error{Kind: KindConflict, Code: "hold_expired", Message: "hold has expired, the slot was released"}
	ErrInvalidStatusTransition = &Error{Kind: KindConflict, Code: "invalid_status_transition", Message: "invalid status transition"}
	ErrStatusChanged           = &Error{Kind: KindConflict, Code: "status_changed", Message: "appointment status changed concurrently"}

	ErrNotAppointmentOwner = &Error{Kind: KindForbidden, Code: "not_appointment_owner", Message: "appointment belongs to another patient"}
)

func validationError(code, format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Code: "storage_error", Message: op, Err: err}
}

// KindOf returns the kind of err. Errors that never went through this
// package are treated as storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// CodeOf returns the client-facing code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
