package schedule

import "errors"

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrInvalidRange marks a malformed interval (start >= end, out of
	// clock bounds, or shorter than the configured granularity).
	ErrInvalidRange = errors.New("invalid time range")

	// ErrOverlap marks a new window that intersects an existing window for
	// the same doctor and date.
	ErrOverlap = errors.New("window overlaps an existing window")

	// ErrWindowInUse blocks deletion of a window still intersected by a
	// pending or confirmed appointment.
	ErrWindowInUse = errors.New("window has active appointments")

	// ErrSlotConflict means the requested interval intersects an existing
	// pending or confirmed appointment for the doctor.
	ErrSlotConflict = errors.New("slot conflicts with an existing appointment")

	// ErrOutsideAvailability means no published window covers the
	// requested interval.
	ErrOutsideAvailability = errors.New("interval is outside published availability")

	// ErrInvalidTransition marks a lifecycle move not permitted from the
	// appointment's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleState means a compare-and-set lost a race with a concurrent
	// writer; the caller may re-read and retry.
	ErrStaleState = errors.New("appointment changed concurrently")

	// ErrNotCompletable means complete was called before the appointment's
	// end time has passed.
	ErrNotCompletable = errors.New("appointment has not ended yet")

	// ErrNotDeletable blocks hard deletion of anything but a cancelled
	// record.
	ErrNotDeletable = errors.New("only cancelled appointments can be deleted")
)
