package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresched/booking-engine/internal/events"
	"github.com/caresched/booking-engine/internal/redislock"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentPostponed = "APPOINTMENT_POSTPONED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
	EventWindowAdded          = "WINDOW_ADDED"
	EventWindowRemoved        = "WINDOW_REMOVED"
)

// BookRequest carries everything needed to reserve an interval.
type BookRequest struct {
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	Date           Date
	Start          ClockTime
	End            ClockTime
	Reason         string
	IdempotencyKey string
}

// Coordinator enforces the appointment lifecycle and orchestrates booking.
// The per doctor-day Redis lock shortens conflict windows between
// instances; the Repository's storage-level checks stay authoritative.
type Coordinator struct {
	repo        Repository
	locker      redislock.Locker
	cache       *SlotCache
	publisher   events.Publisher
	minDuration ClockTime
	now         func() time.Time
	log         zerolog.Logger
}

func NewCoordinator(repo Repository, locker redislock.Locker, cache *SlotCache, publisher events.Publisher, minDurationMinutes int, log zerolog.Logger) *Coordinator {
	if locker == nil {
		locker = redislock.NopLocker{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Coordinator{
		repo:        repo,
		locker:      locker,
		cache:       cache,
		publisher:   publisher,
		minDuration: ClockTime(minDurationMinutes),
		now:         time.Now,
		log:         log.With().Str("component", "coordinator").Logger(),
	}
}

// Availability computes the bookable slots for one doctor and date. The
// result is cached until the next write touching that doctor-day; the cache
// is advisory only since booking re-checks conflicts in storage.
func (c *Coordinator) Availability(ctx context.Context, doctorID uuid.UUID, date Date) ([]Slot, error) {
	if _, err := c.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	if slots, ok := c.cache.Get(doctorID, date); ok {
		return slots, nil
	}

	windows, err := c.repo.ListWindows(ctx, doctorID, date, date)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	appts, err := c.repo.ListByDoctor(ctx, doctorID, date, date, []AppointmentStatus{StatusPending, StatusConfirmed})
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	slots := ComputeSlots(windows, appts, c.minDuration)
	c.cache.Put(doctorID, date, slots)
	return slots, nil
}

// AddWindow publishes a new availability window for a doctor.
func (c *Coordinator) AddWindow(ctx context.Context, doctorID uuid.UUID, date Date, start, end ClockTime, clinicLabel string) (*AvailabilityWindow, error) {
	if err := validateRange(date, start, end, 1); err != nil {
		return nil, err
	}
	if _, err := c.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	w, err := c.repo.AddWindow(ctx, AvailabilityWindow{
		DoctorID:    doctorID,
		Date:        date,
		Start:       start,
		End:         end,
		ClinicLabel: clinicLabel,
	})
	if err != nil {
		return nil, err
	}

	c.cache.Invalidate(doctorID, date)
	c.logEvent(ctx, nil, EventWindowAdded, map[string]any{
		"window_id": w.ID.String(),
		"doctor_id": doctorID.String(),
		"date":      date.String(),
	})
	return w, nil
}

// RemoveWindow deletes a window unless an active appointment still
// intersects it. Windows are never edited in place: delete and recreate.
func (c *Coordinator) RemoveWindow(ctx context.Context, windowID uuid.UUID) error {
	w, err := c.repo.GetWindow(ctx, windowID)
	if err != nil {
		return err
	}

	if err := c.repo.RemoveWindow(ctx, windowID); err != nil {
		return err
	}

	c.cache.Invalidate(w.DoctorID, w.Date)
	c.logEvent(ctx, nil, EventWindowRemoved, map[string]any{
		"window_id": windowID.String(),
		"doctor_id": w.DoctorID.String(),
		"date":      w.Date.String(),
	})
	return nil
}

func (c *Coordinator) ListWindows(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	if _, err := c.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return c.repo.ListWindows(ctx, doctorID, from, to)
}

// Book reserves an interval for a patient, creating a pending appointment.
// The interval must lie within a published window; conflicts with existing
// pending/confirmed appointments fail with ErrSlotConflict.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := validateRange(req.Date, req.Start, req.End, c.minDuration); err != nil {
		return nil, err
	}
	if _, err := c.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, err
	}
	if _, err := c.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	windows, err := c.repo.ListWindows(ctx, req.DoctorID, req.Date, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if !Covered(windows, req.Date, req.Start, req.End) {
		return nil, ErrOutsideAvailability
	}

	appt := Appointment{
		ID:        uuid.New(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Start:     req.Start,
		End:       req.End,
		Reason:    req.Reason,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		appt.IdempotencyKey = &key
	}

	var created *Appointment
	err = c.locker.WithDoctorDayLock(ctx, req.DoctorID, req.Date.String(), func(lockCtx context.Context) error {
		var insErr error
		created, insErr = c.repo.InsertIfFree(lockCtx, appt)
		return insErr
	})
	if err != nil {
		return nil, err
	}

	c.cache.Invalidate(req.DoctorID, req.Date)

	// An idempotent replay returns the earlier record under a different id;
	// the original booking already produced its event.
	if created.ID == appt.ID {
		c.emit(ctx, created, EventAppointmentCreated, events.RoutingCreated, map[string]any{
			"reason": req.Reason,
		})
	}
	return created, nil
}

// Confirm moves a pending appointment to confirmed.
func (c *Coordinator) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := c.transition(ctx, id, []AppointmentStatus{StatusPending}, StatusConfirmed, "")
	if err != nil {
		return nil, err
	}
	c.emit(ctx, appt, EventAppointmentConfirmed, events.RoutingConfirmed, map[string]any{})
	return appt, nil
}

// Cancel moves a pending or confirmed appointment to cancelled, recording
// the reason. Cancelled is terminal but auditable; the record stays until
// an explicit delete.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := c.transition(ctx, id, []AppointmentStatus{StatusPending, StatusConfirmed}, StatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(appt.DoctorID, appt.Date)
	c.emit(ctx, appt, EventAppointmentCancelled, events.RoutingCancelled, map[string]any{
		"reason": reason,
	})
	return appt, nil
}

// Postpone marks the original postponed and books a new pending appointment
// at the new interval in one atomic step. The original record's time is
// never rewritten, preserving the audit trail; if the new interval
// conflicts, nothing changes.
func (c *Coordinator) Postpone(ctx context.Context, id uuid.UUID, newDate Date, newStart, newEnd ClockTime, reason string) (*Appointment, *Appointment, error) {
	if err := validateRange(newDate, newStart, newEnd, c.minDuration); err != nil {
		return nil, nil, err
	}

	appt, err := c.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !appt.Status.Active() {
		return nil, nil, ErrInvalidTransition
	}

	windows, err := c.repo.ListWindows(ctx, appt.DoctorID, newDate, newDate)
	if err != nil {
		return nil, nil, fmt.Errorf("list windows: %w", err)
	}
	if !Covered(windows, newDate, newStart, newEnd) {
		return nil, nil, ErrOutsideAvailability
	}

	replacement := Appointment{
		ID:        uuid.New(),
		DoctorID:  appt.DoctorID,
		PatientID: appt.PatientID,
		Date:      newDate,
		Start:     newStart,
		End:       newEnd,
		Reason:    reason,
	}

	var old, rebooked *Appointment
	run := func() error {
		return c.locker.WithDoctorDayLock(ctx, appt.DoctorID, newDate.String(), func(lockCtx context.Context) error {
			var pErr error
			old, rebooked, pErr = c.repo.PostponeAndRebook(lockCtx, id, appt.Status, replacement)
			return pErr
		})
	}

	err = run()
	if errors.Is(err, ErrStaleState) {
		// One bounded retry: somebody moved the status under us.
		appt, err = c.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if !appt.Status.Active() {
			return nil, nil, ErrInvalidTransition
		}
		err = run()
	}
	if err != nil {
		return nil, nil, err
	}

	c.cache.Invalidate(appt.DoctorID, appt.Date)
	c.cache.Invalidate(appt.DoctorID, newDate)

	c.emit(ctx, old, EventAppointmentPostponed, events.RoutingPostponed, map[string]any{
		"reason":         reason,
		"new_id":         rebooked.ID.String(),
		"new_date":       newDate.String(),
		"new_start_time": newStart.String(),
		"new_end_time":   newEnd.String(),
	})
	c.emit(ctx, rebooked, EventAppointmentCreated, events.RoutingCreated, map[string]any{
		"postponed_from": old.ID.String(),
	})
	return old, rebooked, nil
}

// Complete closes out a confirmed appointment once its end time has passed.
func (c *Coordinator) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := c.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}
	if !appt.Date.End(appt.End).Before(c.now()) {
		return nil, ErrNotCompletable
	}

	updated, err := c.transition(ctx, id, []AppointmentStatus{StatusConfirmed}, StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(updated.DoctorID, updated.Date)
	c.emit(ctx, updated, EventAppointmentCompleted, events.RoutingCompleted, map[string]any{})
	return updated, nil
}

// DeleteCancelled hard-deletes a cancelled appointment. Explicit admin
// action only; every other status is refused.
func (c *Coordinator) DeleteCancelled(ctx context.Context, id uuid.UUID) error {
	if err := c.repo.DeleteCancelled(ctx, id); err != nil {
		return err
	}
	c.logEvent(ctx, &id, EventAppointmentDeleted, map[string]any{})
	return nil
}

func (c *Coordinator) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.repo.GetAppointmentByID(ctx, id)
}

func (c *Coordinator) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to Date, statuses []AppointmentStatus) ([]Appointment, error) {
	return c.repo.ListByDoctor(ctx, doctorID, from, to, statuses)
}

func (c *Coordinator) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return c.repo.ListByPatient(ctx, patientID)
}

// SweepCompleted marks confirmed appointments whose end time has passed as
// completed. Called periodically by the sweep worker.
func (c *Coordinator) SweepCompleted(ctx context.Context) (int, error) {
	ended, err := c.repo.FindConfirmedEndedBefore(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("find ended appointments: %w", err)
	}

	swept := 0
	for _, appt := range ended {
		updated, err := c.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted, "")
		if err != nil {
			// Lost a race with an explicit complete or cancel; skip.
			if errors.Is(err, ErrStaleState) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			c.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("sweep complete failed")
			continue
		}
		swept++
		c.emit(ctx, updated, EventAppointmentCompleted, events.RoutingCompleted, map[string]any{
			"swept": true,
		})
	}
	return swept, nil
}

// transition performs a CAS status move with one bounded retry when the CAS
// loses a race and the re-read status is still an allowed source.
func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, allowed []AppointmentStatus, to AppointmentStatus, reason string) (*Appointment, error) {
	for attempt := 0; attempt < 2; attempt++ {
		appt, err := c.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !statusIn(appt.Status, allowed) {
			return nil, ErrInvalidTransition
		}

		updated, err := c.repo.UpdateStatus(ctx, id, appt.Status, to, reason)
		if errors.Is(err, ErrStaleState) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrStaleState
}

func (c *Coordinator) emit(ctx context.Context, appt *Appointment, eventType, routingKey string, payload map[string]any) {
	payload["appointment_id"] = appt.ID.String()
	payload["doctor_id"] = appt.DoctorID.String()
	payload["patient_id"] = appt.PatientID.String()
	payload["date"] = appt.Date.String()
	payload["start_time"] = appt.Start.String()
	payload["end_time"] = appt.End.String()
	payload["status"] = string(appt.Status)

	c.logEvent(ctx, &appt.ID, eventType, payload)
	c.publisher.Publish(ctx, events.Event{RoutingKey: routingKey, Payload: payload})
}

func (c *Coordinator) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := c.repo.InsertEvent(ctx, ev); err != nil {
		c.log.Error().Err(err).Str("event_type", eventType).Msg("insert event log")
	}
}

func validateRange(date Date, start, end ClockTime, minDuration ClockTime) error {
	if date.IsZero() {
		return ErrInvalidRange
	}
	if !start.Valid() || end < start || end > 24*60 {
		return ErrInvalidRange
	}
	if end-start < minDuration {
		return ErrInvalidRange
	}
	return nil
}
