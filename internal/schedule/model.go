package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusPostponed AppointmentStatus = "postponed"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether the status counts toward the per-doctor
// non-overlap invariant.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// ClockTime is a local time of day stored as minutes since midnight.
// It marshals as "HH:MM".
type ClockTime int

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		// lenient second form, some clients send seconds
		t, err = time.Parse("15:04:05", s)
		if err != nil {
			return 0, fmt.Errorf("parse clock time %q: %w", s, err)
		}
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c < 24*60
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ct, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// Date is a calendar date with no time component. It marshals as
// "YYYY-MM-DD" and is always anchored at midnight UTC internally.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time   { return d.t }
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) String() string    { return d.t.Format("2006-01-02") }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) Before(o Date) bool {
	return d.t.Before(o.t)
}
func (d Date) After(o Date) bool {
	return d.t.After(o.t)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.t.AddDate(0, 0, n))
}

// End returns the instant the date's last bookable minute ends, using the
// given end-of-interval clock time.
func (d Date) End(c ClockTime) time.Time {
	return d.t.Add(time.Duration(c) * time.Minute)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	pd, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = pd
	return nil
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is a doctor-published span of bookable time on one
// calendar date. Windows for one doctor on one date are kept disjoint so
// slot computation stays unambiguous.
type AvailabilityWindow struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        Date
	Start       ClockTime
	End         ClockTime
	ClinicLabel string
	CreatedAt   time.Time
}

// Appointment is a patient's reservation of a sub-interval of a window.
// The interval is checked against windows at creation time, not stored as
// a foreign key, so windows can be removed without breaking history.
type Appointment struct {
	ID             uuid.UUID
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	Date           Date
	Start          ClockTime
	End            ClockTime
	Status         AppointmentStatus
	Reason         string
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Overlaps reports whether two half-open intervals on the same date
// intersect.
func (a Appointment) Overlaps(date Date, start, end ClockTime) bool {
	return a.Date.Equal(date) && a.Start < end && start < a.End
}

// Slot is a computed, currently-bookable sub-interval of a window. It is a
// derived view and is never persisted.
type Slot struct {
	Start       ClockTime `json:"start"`
	End         ClockTime `json:"end"`
	ClinicLabel string    `json:"clinic_label,omitempty"`
	Bookable    bool      `json:"bookable"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
