package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/evidence"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const testSecret = "test-staff-secret"

var testDate = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

type stubService struct {
	avail       *appointment.Availability
	hold        *appointment.Hold
	appt        *appointment.Appointment
	detail      *appointment.AppointmentDetail
	err         error
	validateErr error

	holdReq       appointment.HoldRequest
	bookReq       appointment.BookingRequest
	directReq     appointment.DirectBookingRequest
	transitionReq appointment.TransitionRequest
	cancelPatient uuid.UUID
	cancelReason  string
	validated     int
	booked        int
}

func (s *stubService) Availability(ctx context.Context, serviceID uuid.UUID, date time.Time) (*appointment.Availability, error) {
	return s.avail, s.err
}

func (s *stubService) CreateHold(ctx context.Context, req appointment.HoldRequest) (*appointment.Hold, error) {
	s.holdReq = req
	return s.hold, s.err
}

func (s *stubService) ValidateHold(ctx context.Context, token uuid.UUID) (*appointment.Hold, error) {
	s.validated++
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return s.hold, nil
}

func (s *stubService) Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error) {
	s.bookReq = req
	s.booked++
	return s.appt, s.err
}

func (s *stubService) BookDirect(ctx context.Context, req appointment.DirectBookingRequest) (*appointment.Appointment, error) {
	s.directReq = req
	return s.appt, s.err
}

func (s *stubService) Transition(ctx context.Context, req appointment.TransitionRequest) (*appointment.Appointment, error) {
	s.transitionReq = req
	return s.appt, s.err
}

func (s *stubService) CancelAsPatient(ctx context.Context, appointmentID, patientID uuid.UUID, reason string) (*appointment.Appointment, error) {
	s.cancelPatient = patientID
	s.cancelReason = reason
	if s.err != nil {
		return nil, s.err
	}
	if s.appt == nil || s.appt.PatientID != patientID {
		return nil, appointment.ErrNotAppointmentOwner
	}
	return s.appt, nil
}

func (s *stubService) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return s.detail, s.err
}

func (s *stubService) ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	if s.appt == nil {
		return nil, s.err
	}
	return []appointment.Appointment{*s.appt}, s.err
}

type stubUploader struct {
	enabled bool
	puts    int
	err     error
}

func (u *stubUploader) Enabled() bool { return u.enabled }

func (u *stubUploader) Put(ctx context.Context, contentType string, r io.Reader) (*evidence.Evidence, error) {
	if u.err != nil {
		return nil, u.err
	}
	b, _ := io.ReadAll(r)
	if err := evidence.CheckFile(contentType, int64(len(b)), 0); err != nil {
		return nil, err
	}
	u.puts++
	return &evidence.Evidence{Ref: "s3://bucket/key.pdf", ContentType: contentType, SizeBytes: int64(len(b))}, nil
}

func newTestRouter(svc *stubService, uploader *stubUploader, checks ...DependencyCheck) http.Handler {
	cfg := RouterConfig{
		Service:        svc,
		Logger:         logging.Discard(),
		StaffJWTSecret: testSecret,
		Checks:         checks,
		Env:            "test",
		Version:        "v0",
	}
	if uploader != nil {
		cfg.Evidence = uploader
	}
	return NewRouter(cfg)
}

func staffToken(t *testing.T, sub, role, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, StaffClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(h http.Handler, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func sampleAvailability() *appointment.Availability {
	provider := uuid.New()
	open := appointment.Slot{Date: testDate, Time: 9 * 60, ProviderID: provider, Status: appointment.SlotAvailable}
	held := appointment.Slot{Date: testDate, Time: 10 * 60, ProviderID: provider, Status: appointment.SlotHeld}
	return &appointment.Availability{
		ServiceID: uuid.New(),
		Date:      testDate,
		Open:      true,
		Slots:     []appointment.Slot{open},
		AllSlots:  []appointment.Slot{open, held},
	}
}

func sampleAppointment(status appointment.AppointmentStatus) *appointment.Appointment {
	return &appointment.Appointment{
		ID: uuid.New(), PatientID: uuid.New(), ProviderID: uuid.New(), ServiceID: uuid.New(),
		Date: testDate, Time: 9 * 60, Status: status,
	}
}

func TestAvailabilityPublicAndStaff(t *testing.T) {
	svc := &stubService{avail: sampleAvailability()}
	h := newTestRouter(svc, nil)
	path := "/availability?service_id=" + uuid.NewString() + "&date=2026-10-19"

	rec := do(h, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var public AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &public))
	require.Len(t, public.Slots, 1)
	assert.Equal(t, "09:00", public.Slots[0].Time)
	assert.Equal(t, "2026-10-19", public.Date)

	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, uuid.NewString(), "receptionist", testSecret)}
	rec = do(h, http.MethodGet, "/staff"+path, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var staff AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &staff))
	require.Len(t, staff.Slots, 2)
	assert.Equal(t, "held", staff.Slots[1].Status)
}

func TestAvailabilityBadQuery(t *testing.T) {
	h := newTestRouter(&stubService{}, nil)

	rec := do(h, http.MethodGet, "/availability?service_id=nope&date=2026-10-19", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_service_id", decodeError(t, rec).Error)

	rec = do(h, http.MethodGet, "/availability?service_id="+uuid.NewString()+"&date=19/10/2026", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decodeError(t, rec).Error)
}

func TestCreateHold(t *testing.T) {
	hold := &appointment.Hold{Token: uuid.New(), Date: testDate, Time: 9 * 60, ExpiresAt: time.Now().Add(10 * time.Minute)}
	svc := &stubService{hold: hold}
	h := newTestRouter(svc, nil)

	body := `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() +
		`","date":"2026-10-19","time":"09:00","contact_name":"Lucia","contact_phone":"+51999"}`
	rec := do(h, http.MethodPost, "/holds", strings.NewReader(body), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp HoldResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, hold.Token, resp.Token)
	assert.Equal(t, "09:00", resp.Time)
	assert.Equal(t, "Lucia", svc.holdReq.Contact.Name)
	assert.Equal(t, 9*60, int(svc.holdReq.Time))
}

func TestCreateHoldErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid_request_body"},
		{"bad time", `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `","date":"2026-10-19","time":"9am"}`, nil, http.StatusBadRequest, "invalid_time"},
		{"taken", `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `","date":"2026-10-19","time":"09:00"}`, appointment.ErrSlotNotAvailable, http.StatusConflict, "slot_not_available"},
		{"unknown provider", `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `","date":"2026-10-19","time":"09:00"}`, appointment.ErrProviderNotFound, http.StatusNotFound, "provider_not_found"},
		{"storage", `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `","date":"2026-10-19","time":"09:00"}`, errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&stubService{err: tt.err}, nil)
			rec := do(h, http.MethodPost, "/holds", strings.NewReader(tt.body), nil)
			assert.Equal(t, tt.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.code, e.Error)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, e.Details, "db down")
			}
		})
	}
}

func TestGetHoldExpired(t *testing.T) {
	h := newTestRouter(&stubService{validateErr: appointment.ErrHoldExpired}, nil)
	rec := do(h, http.MethodGet, "/holds/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "hold_expired", e.Error)
	assert.Equal(t, "conflict", e.Kind)
}

func TestCreateBookingJSON(t *testing.T) {
	svc := &stubService{appt: sampleAppointment(appointment.StatusPending)}
	h := newTestRouter(svc, nil)

	token := uuid.New()
	body := `{"hold_token":"` + token.String() + `","patient_id":"` + uuid.NewString() +
		`","payment_evidence":{"ref":"s3://b/k.pdf","content_type":"application/pdf","size_bytes":100},` +
		`"booker":{"name":"Rosa","phone":"+51988"}}`
	rec := do(h, http.MethodPost, "/bookings", strings.NewReader(body), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, token, svc.bookReq.HoldToken)
	assert.Equal(t, "s3://b/k.pdf", svc.bookReq.Evidence.Ref)
	require.NotNil(t, svc.bookReq.Booker)
	assert.Equal(t, "Rosa", svc.bookReq.Booker.Name)
}

func TestCreateBookingLostRace(t *testing.T) {
	svc := &stubService{err: appointment.ErrSlotNoLongerAvailable}
	h := newTestRouter(svc, nil)

	body := `{"hold_token":"` + uuid.NewString() + `","patient_id":"` + uuid.NewString() + `","payment_evidence":{"ref":"r","content_type":"image/png","size_bytes":1}}`
	rec := do(h, http.MethodPost, "/bookings", strings.NewReader(body), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_no_longer_available", decodeError(t, rec).Error)
}

func multipartBooking(t *testing.T, holdToken, contentType string, file []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("hold_token", holdToken))
	require.NoError(t, mw.WriteField("patient_id", uuid.NewString()))
	require.NoError(t, mw.WriteField("booker_name", "Rosa"))
	require.NoError(t, mw.WriteField("booker_phone", "+51988"))

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="payment_evidence"; filename="proof"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateBookingMultipart(t *testing.T) {
	svc := &stubService{appt: sampleAppointment(appointment.StatusPending)}
	uploader := &stubUploader{enabled: true}
	h := newTestRouter(svc, uploader)

	body, ct := multipartBooking(t, uuid.NewString(), "application/pdf", []byte("%PDF-1.4"))
	rec := do(h, http.MethodPost, "/bookings", body, map[string]string{"Content-Type": ct})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, 1, uploader.puts)
	assert.Equal(t, "s3://bucket/key.pdf", svc.bookReq.Evidence.Ref)
	assert.Equal(t, int64(8), svc.bookReq.Evidence.SizeBytes)
	require.NotNil(t, svc.bookReq.Booker)
	assert.Equal(t, "+51988", svc.bookReq.Booker.Phone)
}

func TestCreateBookingMultipartRejectsBeforeBooking(t *testing.T) {
	t.Run("wrong file type", func(t *testing.T) {
		svc := &stubService{appt: sampleAppointment(appointment.StatusPending)}
		uploader := &stubUploader{enabled: true}
		h := newTestRouter(svc, uploader)

		body, ct := multipartBooking(t, uuid.NewString(), "text/plain", []byte("hello"))
		rec := do(h, http.MethodPost, "/bookings", body, map[string]string{"Content-Type": ct})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_payment_evidence", decodeError(t, rec).Error)
		assert.Zero(t, svc.booked)
		assert.Zero(t, uploader.puts)
	})

	t.Run("dead hold uploads nothing", func(t *testing.T) {
		svc := &stubService{validateErr: appointment.ErrHoldExpired}
		uploader := &stubUploader{enabled: true}
		h := newTestRouter(svc, uploader)

		body, ct := multipartBooking(t, uuid.NewString(), "image/png", []byte("png"))
		rec := do(h, http.MethodPost, "/bookings", body, map[string]string{"Content-Type": ct})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Zero(t, uploader.puts)
		assert.Zero(t, svc.booked)
	})

	t.Run("storage not configured", func(t *testing.T) {
		svc := &stubService{}
		h := newTestRouter(svc, &stubUploader{enabled: false})

		body, ct := multipartBooking(t, uuid.NewString(), "image/png", []byte("png"))
		rec := do(h, http.MethodPost, "/bookings", body, map[string]string{"Content-Type": ct})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Zero(t, svc.booked)
	})
}

func TestStaffAuth(t *testing.T) {
	h := newTestRouter(&stubService{}, nil)
	path := "/staff/appointments/" + uuid.NewString()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + staffToken(t, uuid.NewString(), "admin", "other"), http.StatusUnauthorized},
		{"subject not uuid", "Bearer " + staffToken(t, "alice", "admin", testSecret), http.StatusUnauthorized},
		{"patient role", "Bearer " + staffToken(t, uuid.NewString(), "patient", testSecret), http.StatusForbidden},
		{"no role", "Bearer " + staffToken(t, uuid.NewString(), "", testSecret), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := do(h, http.MethodGet, path, nil, headers)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestTransitionUsesActor(t *testing.T) {
	svc := &stubService{appt: sampleAppointment(appointment.StatusCancelled)}
	h := newTestRouter(svc, nil)
	actor := uuid.New()
	apptID := uuid.New()

	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, actor.String(), "doctor", testSecret)}
	body := `{"status":"cancelled","reason":"patient called","metadata":{"channel":"phone"}}`
	rec := do(h, http.MethodPost, "/staff/appointments/"+apptID.String()+"/transitions", strings.NewReader(body), auth)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, actor, svc.transitionReq.ActorID)
	assert.Equal(t, apptID, svc.transitionReq.AppointmentID)
	assert.Equal(t, appointment.StatusCancelled, svc.transitionReq.Target)
	assert.Equal(t, "phone", svc.transitionReq.Metadata["channel"])

	rec = do(h, http.MethodPost, "/staff/appointments/"+apptID.String()+"/transitions", strings.NewReader(`{"status":"archived"}`), auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decodeError(t, rec).Error)
}

func TestPatientCancelOwnAppointment(t *testing.T) {
	appt := sampleAppointment(appointment.StatusCancelled)
	svc := &stubService{appt: appt}
	h := newTestRouter(svc, nil)
	path := "/appointments/" + appt.ID.String() + "/cancel"

	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, appt.PatientID.String(), "patient", testSecret)}
	rec := do(h, http.MethodPost, path, strings.NewReader(`{"reason":"cannot make it"}`), auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt.PatientID, svc.cancelPatient)
	assert.Equal(t, "cannot make it", svc.cancelReason)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancelled", resp.Status)
}

func TestPatientCancelRejected(t *testing.T) {
	appt := sampleAppointment(appointment.StatusPending)
	path := "/appointments/" + appt.ID.String() + "/cancel"
	body := `{"reason":"cannot make it"}`

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing token", "", http.StatusUnauthorized, "missing_token"},
		{"staff token", "Bearer " + staffToken(t, appt.PatientID.String(), "receptionist", testSecret), http.StatusForbidden, "forbidden"},
		{"another patient", "Bearer " + staffToken(t, uuid.NewString(), "patient", testSecret), http.StatusForbidden, "not_appointment_owner"},
		{"wrong secret", "Bearer " + staffToken(t, appt.PatientID.String(), "patient", "other"), http.StatusUnauthorized, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{appt: appt}
			h := newTestRouter(svc, nil)
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := do(h, http.MethodPost, path, strings.NewReader(body), headers)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestPatientCancelNeedsReason(t *testing.T) {
	appt := sampleAppointment(appointment.StatusPending)
	reasonErr := &appointment.Error{Kind: appointment.KindValidation, Code: "cancellation_reason_required", Message: "a cancellation reason is required"}
	svc := &stubService{appt: appt, err: reasonErr}
	h := newTestRouter(svc, nil)

	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, appt.PatientID.String(), "patient", testSecret)}
	rec := do(h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", strings.NewReader(`{}`), auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cancellation_reason_required", decodeError(t, rec).Error)
}

func TestAccessLogCarriesActor(t *testing.T) {
	var buf bytes.Buffer
	svc := &stubService{detail: &appointment.AppointmentDetail{Appointment: *sampleAppointment(appointment.StatusPending)}}
	h := NewRouter(RouterConfig{
		Service:        svc,
		Logger:         logging.NewWithWriter("info", &buf),
		StaffJWTSecret: testSecret,
	})
	actor := uuid.New()

	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, actor.String(), "doctor", testSecret)}
	rec := do(h, http.MethodGet, "/staff/appointments/"+uuid.NewString(), nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, actor.String(), entry["actor_id"])
	assert.Equal(t, "doctor", entry["actor_role"])

	buf.Reset()
	rec = do(h, http.MethodGet, "/health/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasActor := entry["actor_id"]
	assert.False(t, hasActor)
}

func TestTransitionIllegalIsConflict(t *testing.T) {
	svc := &stubService{err: appointment.ErrInvalidStatusTransition}
	h := newTestRouter(svc, nil)
	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, uuid.NewString(), "admin", testSecret)}

	rec := do(h, http.MethodPost, "/staff/appointments/"+uuid.NewString()+"/transitions", strings.NewReader(`{"status":"completed"}`), auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}

func TestGetAppointmentDetail(t *testing.T) {
	appt := sampleAppointment(appointment.StatusConfirmed)
	pending := appointment.StatusPending
	svc := &stubService{detail: &appointment.AppointmentDetail{
		Appointment: *appt,
		History: []appointment.StateHistory{
			{ID: uuid.New(), AppointmentID: appt.ID, NewState: appointment.StatusPending},
			{ID: uuid.New(), AppointmentID: appt.ID, PreviousState: &pending, NewState: appointment.StatusConfirmed},
		},
	}}
	h := newTestRouter(svc, nil)
	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, uuid.NewString(), "admin", testSecret)}

	rec := do(h, http.MethodGet, "/staff/appointments/"+appt.ID.String(), nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, appt.ID, resp.ID)
	require.Len(t, resp.History, 2)
	assert.Nil(t, resp.History[0].PreviousState)
	assert.Equal(t, "pending", *resp.History[1].PreviousState)
}

func TestBookDirectAndList(t *testing.T) {
	svc := &stubService{appt: sampleAppointment(appointment.StatusConfirmed)}
	h := newTestRouter(svc, nil)
	actor := uuid.New()
	auth := map[string]string{"Authorization": "Bearer " + staffToken(t, actor.String(), "receptionist", testSecret)}

	body := `{"provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `","patient_id":"` + uuid.NewString() + `","date":"2026-10-19","time":"11:00"}`
	rec := do(h, http.MethodPost, "/staff/appointments", strings.NewReader(body), auth)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, actor, svc.directReq.ActorID)
	assert.Equal(t, 11*60, int(svc.directReq.Time))

	rec = do(h, http.MethodGet, "/staff/appointments?provider_id="+uuid.NewString()+"&date=2026-10-19", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("down") }

	h := newTestRouter(&stubService{}, nil,
		DependencyCheck{Name: "postgres", Critical: true, Ping: ok},
		DependencyCheck{Name: "redis", Ping: down},
	)
	rec := do(h, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	h = newTestRouter(&stubService{}, nil, DependencyCheck{Name: "postgres", Critical: true, Ping: down})
	rec = do(h, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(h, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestRouter(&stubService{}, nil)

	rec := do(h, http.MethodGet, "/health/live", nil, map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/health/live", nil, nil)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}
