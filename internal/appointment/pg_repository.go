package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool DB
}

func NewPgRepository(pool DB) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, provider_id, service_id, slot_date, to_char(slot_time, 'HH24:MI'), status, notes,
	confirmed_by, confirmed_at, cancelled_by, cancelled_at, cancellation_reason, arrived_at,
	entered_consultation_by, entered_consultation_at, completed_by, completed_at,
	state_changed_by, state_changed_at, state_changed_reason,
	booker_name, booker_phone, booker_email, booker_relationship, created_at, updated_at`

const holdColumns = `token, provider_id, service_id, slot_date, to_char(slot_time, 'HH24:MI'), expires_at,
	contact_name, contact_phone, contact_email, payment_reference, created_at`

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotTime string

	err := row.Scan(
		&a.ID, &a.PatientID, &a.ProviderID, &a.ServiceID, &a.Date, &slotTime, &a.Status, &a.Notes,
		&a.ConfirmedBy, &a.ConfirmedAt, &a.CancelledBy, &a.CancelledAt, &a.CancellationReason, &a.ArrivedAt,
		&a.EnteredConsultationBy, &a.EnteredConsultationAt, &a.CompletedBy, &a.CompletedAt,
		&a.StateChangedBy, &a.StateChangedAt, &a.StateChangedReason,
		&a.BookerName, &a.BookerPhone, &a.BookerEmail, &a.BookerRelationship, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	clock, err := schedule.ParseClock(slotTime)
	if err != nil {
		return nil, fmt.Errorf("scan appointment slot time: %w", err)
	}
	a.Time = clock
	return &a, nil
}

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	var slotTime string

	err := row.Scan(
		&h.Token, &h.ProviderID, &h.ServiceID, &h.Date, &slotTime, &h.ExpiresAt,
		&h.ContactName, &h.ContactPhone, &h.ContactEmail, &h.PaymentReference, &h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoldNotFound
		}
		return nil, err
	}

	clock, err := schedule.ParseClock(slotTime)
	if err != nil {
		return nil, fmt.Errorf("scan hold slot time: %w", err)
	}
	h.Time = clock
	return &h, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func activeStatusNames() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// lockSlot serializes every writer of one slot for the rest of the transaction.
func lockSlot(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}
	return nil
}

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, active
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Specialty, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	var s ClinicService
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, price_cents, deposit_percent, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.PriceCents, &s.DepositPercent, &s.DurationMinutes, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Availability inputs

func (r *PgRepository) GetBlockedDate(ctx context.Context, date time.Time) (*schedule.BlockedDate, error) {
	var b schedule.BlockedDate
	err := r.pool.QueryRow(ctx, `
		SELECT id, blocked_date, reason, active
		FROM blocked_dates
		WHERE blocked_date = $1 AND active
		LIMIT 1
	`, date).Scan(&b.ID, &b.Date, &b.Reason, &b.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *PgRepository) ListRulesForService(ctx context.Context, serviceID uuid.UUID, weekday time.Weekday) ([]schedule.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.provider_id, r.service_id, r.day_of_week,
		       to_char(r.start_time, 'HH24:MI'), to_char(r.end_time, 'HH24:MI'), r.slot_minutes, r.active
		FROM schedule_rules r
		JOIN providers p ON p.id = r.provider_id AND p.active
		WHERE r.active
		  AND r.day_of_week = $2
		  AND (r.service_id = $1
		       OR (r.service_id IS NULL AND EXISTS (
		           SELECT 1 FROM provider_services ps
		           WHERE ps.provider_id = r.provider_id AND ps.service_id = $1)))
		ORDER BY r.provider_id, r.start_time
	`, serviceID, int(weekday))
	if err != nil {
		return nil, err
	}

	return collect(rows, func(row pgx.Row) (*schedule.Rule, error) {
		var rule schedule.Rule
		var day int
		var start, end string
		if err := row.Scan(&rule.ID, &rule.ProviderID, &rule.ServiceID, &day, &start, &end, &rule.SlotMinutes, &rule.Active); err != nil {
			return nil, err
		}
		var err error
		rule.Weekday = time.Weekday(day)
		if rule.Start, err = schedule.ParseClock(start); err != nil {
			return nil, err
		}
		if rule.End, err = schedule.ParseClock(end); err != nil {
			return nil, err
		}
		return &rule, nil
	})
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND slot_date = $2 AND status = ANY($3)
		ORDER BY slot_time
	`, providerID, date, activeStatusNames())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListLiveHolds(ctx context.Context, providerID uuid.UUID, date time.Time, now time.Time) ([]Hold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+`
		FROM slot_holds
		WHERE provider_id = $1 AND slot_date = $2 AND expires_at > $3
		ORDER BY slot_time
	`, providerID, date, now)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanHold)
}

// Holds

// CreateHold inserts a hold under the slot lock. Expired holds on the same
// slot are overwritten; a live one or an active appointment wins.
func (r *PgRepository) CreateHold(ctx context.Context, h Hold, now time.Time) (*Hold, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin hold tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockSlot(ctx, tx, slotKey(h.ProviderID, h.Date, h.Time)); err != nil {
		return nil, err
	}

	var booked bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1 AND slot_date = $2 AND slot_time = $3::time AND status = ANY($4)
		)
	`, h.ProviderID, h.Date, h.Time.String(), activeStatusNames()).Scan(&booked)
	if err != nil {
		return nil, fmt.Errorf("check slot appointments: %w", err)
	}
	if booked {
		return nil, ErrSlotNotAvailable
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM slot_holds
		WHERE provider_id = $1 AND slot_date = $2 AND slot_time = $3::time AND expires_at <= $4
	`, h.ProviderID, h.Date, h.Time.String(), now); err != nil {
		return nil, fmt.Errorf("clear expired holds: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO slot_holds (token, provider_id, service_id, slot_date, slot_time, expires_at,
		                        contact_name, contact_phone, contact_email, payment_reference, created_at)
		VALUES ($1, $2, $3, $4, $5::time, $6, $7, $8, $9, $10, $11)
		RETURNING `+holdColumns,
		h.Token, h.ProviderID, h.ServiceID, h.Date, h.Time.String(), h.ExpiresAt,
		h.ContactName, h.ContactPhone, h.ContactEmail, h.PaymentReference, now)
	created, err := scanHold(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotNotAvailable
		}
		return nil, fmt.Errorf("insert hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit hold: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetHold(ctx context.Context, token uuid.UUID) (*Hold, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+holdColumns+`
		FROM slot_holds
		WHERE token = $1
	`, token)
	return scanHold(row)
}

func (r *PgRepository) PurgeExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM slot_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Appointment creation

func insertAppointment(ctx context.Context, tx pgx.Tx, a Appointment) (*Appointment, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, service_id, slot_date, slot_time, status, notes,
		                          confirmed_by, confirmed_at, state_changed_by, state_changed_at, state_changed_reason,
		                          booker_name, booker_phone, booker_email, booker_relationship, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.ProviderID, a.ServiceID, a.Date, a.Time.String(), a.Status, a.Notes,
		a.ConfirmedBy, a.ConfirmedAt, a.StateChangedBy, a.StateChangedAt, a.StateChangedReason,
		a.BookerName, a.BookerPhone, a.BookerEmail, a.BookerRelationship, a.CreatedAt)
	return scanAppointment(row)
}

func insertHistory(ctx context.Context, tx pgx.Tx, h StateHistory) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_state_history (id, appointment_id, previous_state, new_state, actor_id, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.AppointmentID, h.PreviousState, h.NewState, h.ActorID, h.Reason, nullableJSON(h.Metadata), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}
	return nil
}

// CompleteBooking turns a live hold into a pending appointment. The hold row
// is locked first, then the slot; the partial unique index on active
// appointments decides races that get past both.
func (r *PgRepository) CompleteBooking(ctx context.Context, rec BookingRecord, now time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	hold, err := scanHold(tx.QueryRow(ctx, `
		SELECT `+holdColumns+`
		FROM slot_holds
		WHERE token = $1
		FOR UPDATE
	`, rec.HoldToken))
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load hold: %w", err)
	}
	if !hold.Live(now) {
		return nil, ErrHoldExpired
	}

	if err := lockSlot(ctx, tx, slotKey(hold.ProviderID, hold.Date, hold.Time)); err != nil {
		return nil, err
	}

	appt := rec.Appointment
	appt.ProviderID = hold.ProviderID
	appt.ServiceID = hold.ServiceID
	appt.Date = hold.Date
	appt.Time = hold.Time

	created, err := insertAppointment(ctx, tx, appt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotNoLongerAvailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	history := rec.History
	history.AppointmentID = created.ID
	if err := insertHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slot_holds WHERE token = $1`, hold.Token); err != nil {
		return nil, fmt.Errorf("consume hold: %w", err)
	}

	ev := rec.Evidence
	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_evidence (id, appointment_id, ref, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, created.ID, ev.Ref, ev.ContentType, ev.SizeBytes, now); err != nil {
		return nil, fmt.Errorf("link payment evidence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return created, nil
}

// CreateAppointment books a slot directly, without a hold. A live hold
// held by someone else blocks it.
func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment, history StateHistory, now time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin appointment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockSlot(ctx, tx, slotKey(appt.ProviderID, appt.Date, appt.Time)); err != nil {
		return nil, err
	}

	var held bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slot_holds
			WHERE provider_id = $1 AND slot_date = $2 AND slot_time = $3::time AND expires_at > $4
		)
	`, appt.ProviderID, appt.Date, appt.Time.String(), now).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("check slot holds: %w", err)
	}
	if held {
		return nil, ErrSlotNotAvailable
	}

	created, err := insertAppointment(ctx, tx, appt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotNotAvailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	history.AppointmentID = created.ID
	if err := insertHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit appointment: %w", err)
	}
	return created, nil
}

// Lifecycle

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND slot_date = $2
		ORDER BY slot_time, created_at
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListConfirmedUnarrived(ctx context.Context, onOrBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed' AND arrived_at IS NULL AND slot_date <= $1
		ORDER BY slot_date, slot_time
	`, onOrBefore)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StateHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, previous_state, new_state, actor_id, reason, metadata, created_at
		FROM appointment_state_history
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}

	return collect(rows, func(row pgx.Row) (*StateHistory, error) {
		var h StateHistory
		var metadata []byte
		if err := row.Scan(&h.ID, &h.AppointmentID, &h.PreviousState, &h.NewState, &h.ActorID, &h.Reason, &metadata, &h.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			h.Metadata = json.RawMessage(metadata)
		}
		return &h, nil
	})
}

// transitionColumns lists the side-effect columns each target state stamps.
// $4 is the actor, $5 the timestamp, $6 the reason.
func transitionColumns(to AppointmentStatus) string {
	switch to {
	case StatusConfirmed:
		return "confirmed_by = $4, confirmed_at = $5,"
	case StatusCancelled:
		return "cancelled_by = $4, cancelled_at = $5, cancellation_reason = $6,"
	case StatusInProgress:
		return "entered_consultation_by = $4, entered_consultation_at = $5, arrived_at = COALESCE(arrived_at, $5),"
	case StatusCompleted:
		return "completed_by = $4, completed_at = $5,"
	}
	return ""
}

// ApplyTransition moves one appointment from change.From to change.To and
// appends the ledger row. If the status is no longer change.From nothing is
// written and ErrStatusChanged is returned.
func (r *PgRepository) ApplyTransition(ctx context.Context, change StatusChange) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET `+transitionColumns(change.To)+`
		    status = $3,
		    state_changed_by = $4,
		    state_changed_at = $5,
		    state_changed_reason = $6,
		    updated_at = $5
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		change.AppointmentID, change.From, change.To, change.ActorID, change.At, change.Reason)
	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	err = insertHistory(ctx, tx, StateHistory{
		ID:            change.HistoryID,
		AppointmentID: change.AppointmentID,
		PreviousState: &change.From,
		NewState:      change.To,
		ActorID:       change.ActorID,
		Reason:        change.Reason,
		Metadata:      change.Metadata,
		CreatedAt:     change.At,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
