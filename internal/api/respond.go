package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a scheduling error kind to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := appointment.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case appointment.KindValidation:
		status = http.StatusBadRequest
	case appointment.KindNotFound:
		status = http.StatusNotFound
	case appointment.KindConflict:
		status = http.StatusConflict
	case appointment.KindForbidden:
		status = http.StatusForbidden
	}

	details := err.Error()
	if status == http.StatusInternalServerError {
		details = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: appointment.CodeOf(err), Details: details, Kind: string(kind)})
}

func isEvidenceError(err error) bool {
	return errors.Is(err, evidence.ErrUnsupportedType) ||
		errors.Is(err, evidence.ErrEmpty) ||
		errors.Is(err, evidence.ErrTooLarge) ||
		errors.Is(err, evidence.ErrMissingRef)
}
