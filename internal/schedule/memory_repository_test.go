package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWindow(t *testing.T, repo *MemoryRepository, doctorID uuid.UUID, date Date) {
	t.Helper()
	_, err := repo.AddWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctorID,
		Date:     date,
		Start:    mustClock(t, "08:00"),
		End:      mustClock(t, "18:00"),
	})
	require.NoError(t, err)
}

func seedAppointment(t *testing.T, repo *MemoryRepository, doctorID uuid.UUID, date Date, start, end string) *Appointment {
	t.Helper()
	appt, err := repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, start),
		End:       mustClock(t, end),
	})
	require.NoError(t, err)
	return appt
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	appt := seedAppointment(t, repo, doctorID, date, "10:00", "10:30")

	updated, err := repo.UpdateStatus(context.Background(), appt.ID, StatusPending, StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	// The expected status no longer matches.
	_, err = repo.UpdateStatus(context.Background(), appt.ID, StatusPending, StatusCancelled, "")
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = repo.UpdateStatus(context.Background(), uuid.New(), StatusPending, StatusConfirmed, "")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestInsertIfFree_RejectsOverlapWithActive(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	seedAppointment(t, repo, doctorID, date, "10:00", "10:30")

	_, err := repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "10:15"),
		End:       mustClock(t, "10:45"),
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	// A different doctor is unaffected.
	otherDoctor := uuid.New()
	seedWindow(t, repo, otherDoctor, date)
	_, err = repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  otherDoctor,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "10:15"),
		End:       mustClock(t, "10:45"),
	})
	assert.NoError(t, err)

	// Touching intervals do not conflict.
	_, err = repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "10:30"),
		End:       mustClock(t, "11:00"),
	})
	assert.NoError(t, err)
}

func TestInsertIfFree_RequiresWindowCoverage(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	// No window at all.
	_, err := repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "10:00"),
		End:       mustClock(t, "10:30"),
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	_, err = repo.AddWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctorID,
		Date:     date,
		Start:    mustClock(t, "09:00"),
		End:      mustClock(t, "12:00"),
	})
	require.NoError(t, err)

	// Straddling the window edge does not count as covered.
	_, err = repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "11:45"),
		End:       mustClock(t, "12:15"),
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestReschedule_ChecksConflictExcludingSelf(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	appt := seedAppointment(t, repo, doctorID, date, "10:00", "10:30")
	other := seedAppointment(t, repo, doctorID, date, "11:00", "11:30")

	// Moving within its own interval is fine: the record under move is
	// excluded from the overlap check.
	moved, err := repo.Reschedule(context.Background(), appt.ID, date,
		mustClock(t, "10:15"), mustClock(t, "10:45"), StatusPending)
	require.NoError(t, err)
	assert.Equal(t, "10:15", moved.Start.String())

	// Moving onto another active appointment is not.
	_, err = repo.Reschedule(context.Background(), appt.ID, date,
		mustClock(t, "11:15"), mustClock(t, "11:45"), StatusPending)
	assert.ErrorIs(t, err, ErrSlotConflict)

	// CAS guard.
	_, err = repo.Reschedule(context.Background(), other.ID, date,
		mustClock(t, "09:00"), mustClock(t, "09:30"), StatusConfirmed)
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = repo.Reschedule(context.Background(), uuid.New(), date,
		mustClock(t, "09:00"), mustClock(t, "09:30"), StatusPending)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPostponeAndRebook_Atomicity(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	appt := seedAppointment(t, repo, doctorID, date, "10:00", "10:30")
	seedAppointment(t, repo, doctorID, date, "11:00", "11:30")

	// Replacement collides: nothing may change.
	_, _, err := repo.PostponeAndRebook(context.Background(), appt.ID, StatusPending, Appointment{
		DoctorID:  doctorID,
		PatientID: appt.PatientID,
		Date:      date,
		Start:     mustClock(t, "11:00"),
		End:       mustClock(t, "11:30"),
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// Replacement fits: original postponed, new pending created.
	old, rebooked, err := repo.PostponeAndRebook(context.Background(), appt.ID, StatusPending, Appointment{
		DoctorID:  doctorID,
		PatientID: appt.PatientID,
		Date:      date,
		Start:     mustClock(t, "09:00"),
		End:       mustClock(t, "09:30"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPostponed, old.Status)
	assert.Equal(t, StatusPending, rebooked.Status)

	// The vacated interval is immediately bookable again.
	_, err = repo.InsertIfFree(context.Background(), Appointment{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      date,
		Start:     mustClock(t, "10:00"),
		End:       mustClock(t, "10:30"),
	})
	assert.NoError(t, err)
}

func TestPostponeAndRebook_RequiresWindowCoverage(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	appt := seedAppointment(t, repo, doctorID, date, "10:00", "10:30")

	// Replacement lands on a day with no window: nothing may change.
	_, _, err := repo.PostponeAndRebook(context.Background(), appt.ID, StatusPending, Appointment{
		DoctorID:  doctorID,
		PatientID: appt.PatientID,
		Date:      date.AddDays(1),
		Start:     mustClock(t, "10:00"),
		End:       mustClock(t, "10:30"),
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestWindows_OverlapAndInUse(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	w, err := repo.AddWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctorID,
		Date:     date,
		Start:    mustClock(t, "09:00"),
		End:      mustClock(t, "12:00"),
	})
	require.NoError(t, err)

	_, err = repo.AddWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctorID,
		Date:     date,
		Start:    mustClock(t, "11:00"),
		End:      mustClock(t, "13:00"),
	})
	assert.ErrorIs(t, err, ErrOverlap)

	// Same span on another date is fine.
	_, err = repo.AddWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctorID,
		Date:     date.AddDays(1),
		Start:    mustClock(t, "11:00"),
		End:      mustClock(t, "13:00"),
	})
	assert.NoError(t, err)

	seedAppointment(t, repo, doctorID, date, "10:00", "10:30")
	assert.ErrorIs(t, repo.RemoveWindow(context.Background(), w.ID), ErrWindowInUse)
}

func TestListByDoctor_FiltersAndOrders(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)
	seedWindow(t, repo, doctorID, date.AddDays(1))

	a := seedAppointment(t, repo, doctorID, date, "11:00", "11:30")
	b := seedAppointment(t, repo, doctorID, date, "09:00", "09:30")
	c := seedAppointment(t, repo, doctorID, date.AddDays(1), "08:00", "08:30")
	_, err := repo.UpdateStatus(context.Background(), a.ID, StatusPending, StatusConfirmed, "")
	require.NoError(t, err)

	all, err := repo.ListByDoctor(context.Background(), doctorID, Date{}, Date{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, a.ID, all[1].ID)
	assert.Equal(t, c.ID, all[2].ID)

	confirmed, err := repo.ListByDoctor(context.Background(), doctorID, Date{}, Date{},
		[]AppointmentStatus{StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID, confirmed[0].ID)

	dayOne, err := repo.ListByDoctor(context.Background(), doctorID, date, date, nil)
	require.NoError(t, err)
	assert.Len(t, dayOne, 2)
}

func TestFindConfirmedEndedBefore(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	seedWindow(t, repo, doctorID, date)

	ended := seedAppointment(t, repo, doctorID, date, "09:00", "09:30")
	ongoing := seedAppointment(t, repo, doctorID, date, "10:00", "10:30")
	for _, id := range []uuid.UUID{ended.ID, ongoing.ID} {
		_, err := repo.UpdateStatus(context.Background(), id, StatusPending, StatusConfirmed, "")
		require.NoError(t, err)
	}

	now := date.End(mustClock(t, "09:45"))
	result, err := repo.FindConfirmedEndedBefore(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, ended.ID, result[0].ID)
}
