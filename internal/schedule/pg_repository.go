package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// asConflict translates a violation of the schema's exclusion-constraint
// backstop into the domain error.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return ErrSlotConflict
	}
	return err
}

// PgRepository implements Repository on Postgres. Every write that can
// violate the per-doctor non-overlap invariant runs inside a transaction
// holding an advisory lock on the (doctor, date) pair, so the invariant
// holds across any number of server processes.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const apptColumns = `id, doctor_id, patient_id, date, start_min, end_min, status, reason, idempotency_key, created_at, updated_at`

const windowColumns = `id, doctor_id, date, start_min, end_min, clinic_label, created_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var date time.Time
	var start, end int

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&date,
		&start,
		&end,
		&w.ClinicLabel,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.Date = DateOf(date)
	w.Start = ClockTime(start)
	w.End = ClockTime(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end int
	var idemKey *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&start,
		&end,
		&a.Status,
		&a.Reason,
		&idemKey,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(date)
	a.Start = ClockTime(start)
	a.End = ClockTime(end)
	a.IdempotencyKey = idemKey
	return &a, nil
}

// lockDoctorDay serializes writers touching one doctor's calendar day. The
// lock is transaction scoped and released automatically at commit/rollback.
func lockDoctorDay(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date Date) error {
	key := fmt.Sprintf("%s:%s", doctorID.String(), date.String())
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("acquire doctor day advisory lock: %w", err)
	}
	return nil
}

// hasActiveOverlap reports whether any pending/confirmed appointment for the
// doctor intersects [start, end) on the date, excluding the given id.
func hasActiveOverlap(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date Date, start, end ClockTime, exclude uuid.UUID) (bool, error) {
	var one int
	err := tx.QueryRow(ctx, `
		SELECT 1
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('pending', 'confirmed')
		  AND start_min < $4
		  AND end_min > $3
		  AND id <> $5
		LIMIT 1
	`, doctorID, date.Time(), int(start), int(end), exclude).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// coveredByWindow reports whether [start, end) lies entirely inside one
// published window for the doctor and date.
func coveredByWindow(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date Date, start, end ClockTime) (bool, error) {
	var one int
	err := tx.QueryRow(ctx, `
		SELECT 1
		FROM availability_windows
		WHERE doctor_id = $1
		  AND date = $2
		  AND start_min <= $3
		  AND end_min >= $4
		LIMIT 1
	`, doctorID, date.Time(), int(start), int(end)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Doctors and patients

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Slot store

func (r *PgRepository) AddWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add window: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockDoctorDay(ctx, tx, w.DoctorID, w.Date); err != nil {
		return nil, err
	}

	var one int
	err = tx.QueryRow(ctx, `
		SELECT 1
		FROM availability_windows
		WHERE doctor_id = $1
		  AND date = $2
		  AND start_min < $4
		  AND end_min > $3
		LIMIT 1
	`, w.DoctorID, w.Date.Time(), int(w.Start), int(w.End)).Scan(&one)
	if err == nil {
		return nil, ErrOverlap
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check window overlap: %w", err)
	}

	id := w.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, date, start_min, end_min, clinic_label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+windowColumns+`
	`, id, w.DoctorID, w.Date.Time(), int(w.Start), int(w.End), w.ClinicLabel)

	created, err := scanWindow(row)
	if err != nil {
		return nil, fmt.Errorf("insert window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add window: %w", err)
	}
	return created, nil
}

func (r *PgRepository) RemoveWindow(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove window: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := scanWindow(tx.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return err
	}

	if err := lockDoctorDay(ctx, tx, w.DoctorID, w.Date); err != nil {
		return err
	}

	inUse, err := hasActiveOverlap(ctx, tx, w.DoctorID, w.Date, w.Start, w.End, uuid.Nil)
	if err != nil {
		return fmt.Errorf("check window in use: %w", err)
	}
	if inUse {
		return ErrWindowInUse
	}

	if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) ListWindows(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE doctor_id = $1
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		ORDER BY date, start_min
	`, doctorID, nullableDate(from), nullableDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// Booking ledger

func (r *PgRepository) InsertIfFree(ctx context.Context, appt Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin insert if free: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockDoctorDay(ctx, tx, appt.DoctorID, appt.Date); err != nil {
		return nil, err
	}

	// Idempotency replay: the same key returns the original record instead
	// of booking twice.
	if appt.IdempotencyKey != nil && *appt.IdempotencyKey != "" {
		existing, err := scanAppointment(tx.QueryRow(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE idempotency_key = $1
		`, *appt.IdempotencyKey))
		if err == nil {
			if cmErr := tx.Commit(ctx); cmErr != nil {
				return nil, fmt.Errorf("commit idempotent replay: %w", cmErr)
			}
			return existing, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
	}

	// Coverage runs under the same advisory lock RemoveWindow takes, so a
	// window removal committing after the caller's pre-check cannot strand
	// this booking outside every window.
	covered, err := coveredByWindow(ctx, tx, appt.DoctorID, appt.Date, appt.Start, appt.End)
	if err != nil {
		return nil, fmt.Errorf("check window coverage: %w", err)
	}
	if !covered {
		return nil, ErrOutsideAvailability
	}

	conflict, err := hasActiveOverlap(ctx, tx, appt.DoctorID, appt.Date, appt.Start, appt.End, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("check appointment overlap: %w", err)
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, start_min, end_min, status, reason, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, now(), now())
		RETURNING `+apptColumns+`
	`, id, appt.DoctorID, appt.PatientID, appt.Date.Time(), int(appt.Start), int(appt.End), appt.Reason, appt.IdempotencyKey)

	created, err := scanAppointment(row)
	if err != nil {
		if conv := asConflict(err); conv != err {
			return nil, conv
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit insert if free: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    reason = COALESCE(NULLIF($4, ''), reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptColumns+`
	`, id, to, from, reason)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing record from a lost CAS race.
		if _, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
			return nil, ErrStaleState
		}
		return nil, ErrAppointmentNotFound
	}
	return updated, err
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, date Date, start, end ClockTime, expected AppointmentStatus) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if current.Status != expected {
		return nil, ErrStaleState
	}

	if err := lockDoctorDay(ctx, tx, current.DoctorID, date); err != nil {
		return nil, err
	}

	covered, err := coveredByWindow(ctx, tx, current.DoctorID, date, start, end)
	if err != nil {
		return nil, fmt.Errorf("check window coverage: %w", err)
	}
	if !covered {
		return nil, ErrOutsideAvailability
	}

	conflict, err := hasActiveOverlap(ctx, tx, current.DoctorID, date, start, end, id)
	if err != nil {
		return nil, fmt.Errorf("check reschedule overlap: %w", err)
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_min = $3,
		    end_min = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		RETURNING `+apptColumns+`
	`, id, date.Time(), int(start), int(end), expected)

	updated, err := scanAppointment(row)
	if err != nil {
		if conv := asConflict(err); conv != err {
			return nil, conv
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return updated, nil
}

// PostponeAndRebook marks the original postponed and inserts the pending
// replacement in one transaction. If the replacement conflicts, the whole
// transaction rolls back and the original keeps its prior status; no reader
// can observe a half-completed postpone.
func (r *PgRepository) PostponeAndRebook(ctx context.Context, id uuid.UUID, expected AppointmentStatus, replacement Appointment) (*Appointment, *Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin postpone: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockDoctorDay(ctx, tx, replacement.DoctorID, replacement.Date); err != nil {
		return nil, nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'postponed',
		    reason = COALESCE(NULLIF($3, ''), reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+apptColumns+`
	`, id, expected, replacement.Reason)

	old, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		var one int
		exErr := tx.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = $1`, id).Scan(&one)
		if exErr == nil {
			return nil, nil, ErrStaleState
		}
		return nil, nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("mark postponed: %w", err)
	}

	covered, err := coveredByWindow(ctx, tx, replacement.DoctorID, replacement.Date, replacement.Start, replacement.End)
	if err != nil {
		return nil, nil, fmt.Errorf("check window coverage: %w", err)
	}
	if !covered {
		return nil, nil, ErrOutsideAvailability
	}

	conflict, err := hasActiveOverlap(ctx, tx, replacement.DoctorID, replacement.Date, replacement.Start, replacement.End, id)
	if err != nil {
		return nil, nil, fmt.Errorf("check postpone overlap: %w", err)
	}
	if conflict {
		return nil, nil, ErrSlotConflict
	}

	newID := replacement.ID
	if newID == uuid.Nil {
		newID = uuid.New()
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, start_min, end_min, status, reason, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, now(), now())
		RETURNING `+apptColumns+`
	`, newID, replacement.DoctorID, replacement.PatientID, replacement.Date.Time(), int(replacement.Start), int(replacement.End), replacement.Reason, replacement.IdempotencyKey)

	created, err := scanAppointment(row)
	if err != nil {
		if conv := asConflict(err); conv != err {
			return nil, nil, conv
		}
		return nil, nil, fmt.Errorf("insert replacement appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit postpone: %w", err)
	}
	return old, created, nil
}

func (r *PgRepository) DeleteCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND status = 'cancelled'
	`, id)
	if err != nil {
		return fmt.Errorf("delete cancelled appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
			return ErrNotDeletable
		}
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to Date, statuses []AppointmentStatus) ([]Appointment, error) {
	var filter []string
	for _, s := range statuses {
		filter = append(filter, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		  AND ($4::text[] IS NULL OR status = ANY($4))
		ORDER BY date, start_min
	`, doctorID, nullableDate(from), nullableDate(to), filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date, start_min
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) FindConfirmedEndedBefore(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND (date + make_interval(mins => end_min)) AT TIME ZONE 'UTC' < $1
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func nullableDate(d Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
