package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-process Repository. It backs the
// coordinator and engine tests and is usable as a single-process dev
// backend; the atomicity contract holds because every write runs under one
// mutex.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	windows      map[uuid.UUID]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		windows:      make(map[uuid.UUID]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
		nextEventID:  1,
	}
}

// PutDoctor and PutPatient exist for seeding and test setup.

func (r *MemoryRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) AddWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.windows {
		if existing.DoctorID == w.DoctorID && existing.Date.Equal(w.Date) &&
			existing.Start < w.End && w.Start < existing.End {
			return nil, ErrOverlap
		}
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now()
	r.windows[w.ID] = w
	return &w, nil
}

func (r *MemoryRepository) RemoveWindow(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return ErrWindowNotFound
	}

	for _, a := range r.appointments {
		if a.DoctorID == w.DoctorID && a.Status.Active() && a.Overlaps(w.Date, w.Start, w.End) {
			return ErrWindowInUse
		}
	}

	delete(r.windows, id)
	return nil
}

func (r *MemoryRepository) GetWindow(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) ListWindows(_ context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []AvailabilityWindow
	for _, w := range r.windows {
		if w.DoctorID != doctorID {
			continue
		}
		if !from.IsZero() && w.Date.Before(from) {
			continue
		}
		if !to.IsZero() && w.Date.After(to) {
			continue
		}
		result = append(result, w)
	}
	sortWindows(result)
	return result, nil
}

func (r *MemoryRepository) InsertIfFree(_ context.Context, appt Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appt.IdempotencyKey != nil && *appt.IdempotencyKey != "" {
		for _, existing := range r.appointments {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *appt.IdempotencyKey {
				e := existing
				return &e, nil
			}
		}
	}

	if !r.coveredLocked(appt.DoctorID, appt.Date, appt.Start, appt.End) {
		return nil, ErrOutsideAvailability
	}
	if r.overlapLocked(appt.DoctorID, appt.Date, appt.Start, appt.End, uuid.Nil) {
		return nil, ErrSlotConflict
	}

	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now()
	appt.Status = StatusPending
	appt.CreatedAt = now
	appt.UpdatedAt = now
	r.appointments[appt.ID] = appt
	return &appt, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStaleState
	}

	a.Status = to
	if reason != "" {
		a.Reason = reason
	}
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) Reschedule(_ context.Context, id uuid.UUID, date Date, start, end ClockTime, expected AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != expected {
		return nil, ErrStaleState
	}
	if !r.coveredLocked(a.DoctorID, date, start, end) {
		return nil, ErrOutsideAvailability
	}
	if r.overlapLocked(a.DoctorID, date, start, end, id) {
		return nil, ErrSlotConflict
	}

	a.Date = date
	a.Start = start
	a.End = end
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) PostponeAndRebook(_ context.Context, id uuid.UUID, expected AppointmentStatus, replacement Appointment) (*Appointment, *Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}
	if a.Status != expected {
		return nil, nil, ErrStaleState
	}

	if !r.coveredLocked(replacement.DoctorID, replacement.Date, replacement.Start, replacement.End) {
		return nil, nil, ErrOutsideAvailability
	}
	// Overlap check excludes the original: it leaves the active set in the
	// same atomic step.
	if r.overlapLocked(replacement.DoctorID, replacement.Date, replacement.Start, replacement.End, id) {
		return nil, nil, ErrSlotConflict
	}

	now := time.Now()
	a.Status = StatusPostponed
	if replacement.Reason != "" {
		a.Reason = replacement.Reason
	}
	a.UpdatedAt = now
	r.appointments[id] = a

	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	replacement.Status = StatusPending
	replacement.CreatedAt = now
	replacement.UpdatedAt = now
	r.appointments[replacement.ID] = replacement

	return &a, &replacement, nil
}

func (r *MemoryRepository) DeleteCancelled(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != StatusCancelled {
		return ErrNotDeletable
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to Date, statuses []AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if !from.IsZero() && a.Date.Before(from) {
			continue
		}
		if !to.IsZero() && a.Date.After(to) {
			continue
		}
		if len(statuses) > 0 && !statusIn(a.Status, statuses) {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) FindConfirmedEndedBefore(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.Date.End(a.End).Before(now) {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = r.nextEventID
	r.nextEventID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the logged events, oldest first.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) coveredLocked(doctorID uuid.UUID, date Date, start, end ClockTime) bool {
	for _, w := range r.windows {
		if w.DoctorID == doctorID && w.Date.Equal(date) && w.Start <= start && end <= w.End {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) overlapLocked(doctorID uuid.UUID, date Date, start, end ClockTime, exclude uuid.UUID) bool {
	for _, a := range r.appointments {
		if a.ID == exclude || a.DoctorID != doctorID || !a.Status.Active() {
			continue
		}
		if a.Overlaps(date, start, end) {
			return true
		}
	}
	return false
}

func statusIn(s AppointmentStatus, set []AppointmentStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
