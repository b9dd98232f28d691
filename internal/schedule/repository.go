package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the coordinator.
//
// Implementations must make InsertIfFree, Reschedule and PostponeAndRebook
// atomic at the storage layer: two concurrent calls with overlapping
// intervals for the same doctor must never both succeed, regardless of how
// many server processes share the store. The same three calls re-verify
// window coverage (ErrOutsideAvailability) inside their critical section,
// serialized against RemoveWindow, so a window removed mid-booking cannot
// leave an appointment that no window covers.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Slot store
	AddWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, id uuid.UUID) error
	GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListWindows(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error)

	// Booking ledger
	InsertIfFree(ctx context.Context, appt Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason string) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date Date, start, end ClockTime, expected AppointmentStatus) (*Appointment, error)
	PostponeAndRebook(ctx context.Context, id uuid.UUID, expected AppointmentStatus, replacement Appointment) (*Appointment, *Appointment, error)
	DeleteCancelled(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to Date, statuses []AppointmentStatus) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// Sweep worker
	FindConfirmedEndedBefore(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
