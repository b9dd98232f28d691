package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustClock(t *testing.T, s string) ClockTime {
	t.Helper()
	c, err := ParseClockTime(s)
	require.NoError(t, err)
	return c
}

func window(t *testing.T, doctorID uuid.UUID, date Date, start, end, label string) AvailabilityWindow {
	t.Helper()
	return AvailabilityWindow{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		Date:        date,
		Start:       mustClock(t, start),
		End:         mustClock(t, end),
		ClinicLabel: label,
	}
}

func booked(t *testing.T, doctorID uuid.UUID, date Date, start, end string, status AppointmentStatus) Appointment {
	t.Helper()
	return Appointment{
		ID:       uuid.New(),
		DoctorID: doctorID,
		Date:     date,
		Start:    mustClock(t, start),
		End:      mustClock(t, end),
		Status:   status,
	}
}

func TestComputeSlots_SubtractsBookings(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "12:00", "Main Clinic")}
	appts := []Appointment{booked(t, doctorID, date, "10:00", "10:30", StatusPending)}

	slots := ComputeSlots(windows, appts, 15)

	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "10:00", slots[0].End.String())
	assert.Equal(t, "10:30", slots[1].Start.String())
	assert.Equal(t, "12:00", slots[1].End.String())
	assert.Equal(t, "Main Clinic", slots[0].ClinicLabel)
	assert.True(t, slots[0].Bookable)
}

func TestComputeSlots_ExactFillYieldsNoSlot(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "10:00", "")}
	appts := []Appointment{booked(t, doctorID, date, "09:00", "10:00", StatusConfirmed)}

	slots := ComputeSlots(windows, appts, 15)
	assert.Empty(t, slots)
}

func TestComputeSlots_IgnoresInactiveAndForeignIntervals(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "11:00", "")}
	appts := []Appointment{
		booked(t, doctorID, date, "09:00", "09:30", StatusCancelled),
		booked(t, doctorID, date, "09:30", "10:00", StatusPostponed),
		booked(t, doctorID, date, "13:00", "14:00", StatusConfirmed),  // outside the window
		booked(t, doctorID, date.AddDays(1), "09:00", "10:00", StatusConfirmed), // other day
	}

	slots := ComputeSlots(windows, appts, 15)

	require.Len(t, slots, 1)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "11:00", slots[0].End.String())
}

func TestComputeSlots_ClipsPartialOverlap(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "12:00", "")}
	// Starts before the window and ends inside it.
	appts := []Appointment{booked(t, doctorID, date, "08:00", "09:45", StatusConfirmed)}

	slots := ComputeSlots(windows, appts, 15)

	require.Len(t, slots, 1)
	assert.Equal(t, "09:45", slots[0].Start.String())
	assert.Equal(t, "12:00", slots[0].End.String())
}

func TestComputeSlots_DropsResidualsBelowGranularity(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "10:00", "")}
	appts := []Appointment{booked(t, doctorID, date, "09:10", "09:55", StatusPending)}

	// 09:00-09:10 and 09:55-10:00 both fall under a 15-minute floor.
	slots := ComputeSlots(windows, appts, 15)
	assert.Empty(t, slots)

	// With a 5-minute floor both residuals survive.
	slots = ComputeSlots(windows, appts, 5)
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "09:10", slots[0].End.String())
	assert.Equal(t, "09:55", slots[1].Start.String())
	assert.Equal(t, "10:00", slots[1].End.String())
}

func TestComputeSlots_OverlappingBookingsDoNotDoubleCount(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{window(t, doctorID, date, "09:00", "12:00", "")}
	// Overlap between a postponed original and its replacement should never
	// happen for active statuses, but the walk must still be robust to
	// nested and touching intervals.
	appts := []Appointment{
		booked(t, doctorID, date, "09:30", "10:30", StatusConfirmed),
		booked(t, doctorID, date, "10:00", "10:15", StatusPending),
		booked(t, doctorID, date, "10:30", "11:00", StatusPending),
	}

	slots := ComputeSlots(windows, appts, 15)

	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "09:30", slots[0].End.String())
	assert.Equal(t, "11:00", slots[1].Start.String())
	assert.Equal(t, "12:00", slots[1].End.String())
}

func TestComputeSlots_OrdersAcrossWindows(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)

	windows := []AvailabilityWindow{
		window(t, doctorID, date, "14:00", "17:00", "North Wing"),
		window(t, doctorID, date, "09:00", "12:00", "Main Clinic"),
	}

	slots := ComputeSlots(windows, nil, 15)

	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "Main Clinic", slots[0].ClinicLabel)
	assert.Equal(t, "14:00", slots[1].Start.String())
	assert.Equal(t, "North Wing", slots[1].ClinicLabel)
}

func TestCovered(t *testing.T) {
	doctorID := uuid.New()
	date := NewDate(2025, time.July, 2)
	windows := []AvailabilityWindow{
		window(t, doctorID, date, "09:00", "12:00", ""),
		window(t, doctorID, date, "14:00", "17:00", ""),
	}

	assert.True(t, Covered(windows, date, mustClock(t, "09:00"), mustClock(t, "12:00")))
	assert.True(t, Covered(windows, date, mustClock(t, "10:00"), mustClock(t, "10:30")))
	assert.False(t, Covered(windows, date, mustClock(t, "11:30"), mustClock(t, "12:30")))
	assert.False(t, Covered(windows, date, mustClock(t, "12:30"), mustClock(t, "13:00")))
	assert.False(t, Covered(windows, date.AddDays(1), mustClock(t, "10:00"), mustClock(t, "10:30")))
}
