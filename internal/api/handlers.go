package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const evidenceField = "payment_evidence"

type handlers struct {
	svc      SchedulingService
	evidence EvidenceUploader
	logger   *logging.Logger
	maxBytes int64
}

func parseUUID(w http.ResponseWriter, raw, code, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func (h *handlers) availability(staff bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		serviceID, ok := parseUUID(w, q.Get("service_id"), "invalid_service_id", "service_id")
		if !ok {
			return
		}
		date, err := schedule.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		avail, err := h.svc.Availability(r.Context(), serviceID, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		slots := avail.Slots
		if staff {
			slots = avail.AllSlots
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ServiceID: avail.ServiceID,
			Date:      schedule.FormatDate(avail.Date),
			Open:      avail.Open,
			Reason:    avail.Reason,
			Slots:     toSlots(slots),
		})
	}
}

func (h *handlers) createHold(w http.ResponseWriter, r *http.Request) {
	var req CreateHoldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	providerID, ok := parseUUID(w, req.ProviderID, "invalid_provider_id", "provider_id")
	if !ok {
		return
	}
	serviceID, ok := parseUUID(w, req.ServiceID, "invalid_service_id", "service_id")
	if !ok {
		return
	}
	date, err := schedule.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	at, err := schedule.ParseClock(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
		return
	}

	hold, err := h.svc.CreateHold(r.Context(), appointment.HoldRequest{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Date:       date,
		Time:       at,
		Contact: appointment.Contact{
			Name:  req.ContactName,
			Phone: req.ContactPhone,
			Email: req.ContactEmail,
		},
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHold(hold))
}

func (h *handlers) getHold(w http.ResponseWriter, r *http.Request) {
	token, ok := parseUUID(w, chi.URLParam(r, "token"), "invalid_hold_token", "token")
	if !ok {
		return
	}
	hold, err := h.svc.ValidateHold(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHold(hold))
}

// createBooking accepts either a JSON body carrying an evidence reference or
// a multipart form carrying the evidence file itself.
func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.createBookingMultipart(w, r)
		return
	}

	var req CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, ok := parseUUID(w, req.HoldToken, "invalid_hold_token", "hold_token")
	if !ok {
		return
	}
	patientID, ok := parseUUID(w, req.PatientID, "invalid_patient_id", "patient_id")
	if !ok {
		return
	}

	h.book(w, r, appointment.BookingRequest{
		HoldToken: token,
		PatientID: patientID,
		Booker:    req.Booker.toDomain(),
		Evidence: evidence.Evidence{
			Ref:         req.Evidence.Ref,
			ContentType: req.Evidence.ContentType,
			SizeBytes:   req.Evidence.SizeBytes,
		},
		Notes: req.Notes,
	})
}

func (h *handlers) createBookingMultipart(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil || !h.evidence.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "evidence_storage_unavailable", "file uploads are not configured, send an evidence reference instead")
		return
	}

	// Leave room for the form fields around the file.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, "invalid_payment_evidence", evidence.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	token, ok := parseUUID(w, r.FormValue("hold_token"), "invalid_hold_token", "hold_token")
	if !ok {
		return
	}
	patientID, ok := parseUUID(w, r.FormValue("patient_id"), "invalid_patient_id", "patient_id")
	if !ok {
		return
	}

	file, header, err := r.FormFile(evidenceField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payment_evidence", evidence.ErrMissingRef.Error())
		return
	}
	defer file.Close()

	// Fail on a dead hold before anything is uploaded.
	if _, err := h.svc.ValidateHold(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}

	ev, err := h.evidence.Put(r.Context(), header.Header.Get("Content-Type"), file)
	if err != nil {
		if isEvidenceError(err) {
			writeError(w, http.StatusBadRequest, "invalid_payment_evidence", err.Error())
			return
		}
		h.logger.Error("payment evidence upload failed", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "evidence_upload_failed", "could not store payment evidence")
		return
	}

	var booker *appointment.Booker
	if name := strings.TrimSpace(r.FormValue("booker_name")); name != "" || r.FormValue("booker_phone") != "" {
		booker = &appointment.Booker{
			Name:         name,
			Phone:        r.FormValue("booker_phone"),
			Email:        r.FormValue("booker_email"),
			Relationship: r.FormValue("booker_relationship"),
		}
	}

	h.book(w, r, appointment.BookingRequest{
		HoldToken: token,
		PatientID: patientID,
		Booker:    booker,
		Evidence:  *ev,
		Notes:     r.FormValue("notes"),
	})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request, req appointment.BookingRequest) {
	appt, err := h.svc.Book(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointment(appt))
}

func (h *handlers) bookDirect(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req DirectBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	providerID, ok := parseUUID(w, req.ProviderID, "invalid_provider_id", "provider_id")
	if !ok {
		return
	}
	serviceID, ok := parseUUID(w, req.ServiceID, "invalid_service_id", "service_id")
	if !ok {
		return
	}
	patientID, ok := parseUUID(w, req.PatientID, "invalid_patient_id", "patient_id")
	if !ok {
		return
	}
	date, err := schedule.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	at, err := schedule.ParseClock(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
		return
	}

	appt, err := h.svc.BookDirect(r.Context(), appointment.DirectBookingRequest{
		ProviderID: providerID,
		ServiceID:  serviceID,
		PatientID:  patientID,
		Date:       date,
		Time:       at,
		ActorID:    actor.ID,
		Booker:     req.Booker.toDomain(),
		Notes:      req.Notes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointment(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID, ok := parseUUID(w, q.Get("provider_id"), "invalid_provider_id", "provider_id")
	if !ok {
		return
	}
	date, err := schedule.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), providerID, date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointment(&appts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_appointment_id", "id")
	if !ok {
		return
	}
	detail, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetail(detail))
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_appointment_id", "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, ok := appointment.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_status", "status must be one of pending, confirmed, in_progress, completed, cancelled, no-show")
		return
	}

	appt, err := h.svc.Transition(r.Context(), appointment.TransitionRequest{
		AppointmentID: id,
		Target:        target,
		ActorID:       actor.ID,
		Reason:        req.Reason,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}

// cancelAsPatient lets the booking owner cancel. The target is always
// cancelled and a reason is required.
func (h *handlers) cancelAsPatient(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_appointment_id", "id")
	if !ok {
		return
	}
	var req CancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.CancelAsPatient(r.Context(), id, actor.ID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}
