package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/caresched/booking-engine/internal/schedule"
)

type CreateWindowRequest struct {
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	ClinicLabel string `json:"clinic_label,omitempty"`
}

type WindowResponse struct {
	ID          uuid.UUID          `json:"id"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	Date        schedule.Date      `json:"date"`
	StartTime   schedule.ClockTime `json:"start_time"`
	EndTime     schedule.ClockTime `json:"end_time"`
	ClinicLabel string             `json:"clinic_label,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PostponeAppointmentRequest struct {
	NewDate      string `json:"new_date"`
	NewStartTime string `json:"new_start_time"`
	NewEndTime   string `json:"new_end_time"`
	Reason       string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID          `json:"id"`
	DoctorID  uuid.UUID          `json:"doctor_id"`
	PatientID uuid.UUID          `json:"patient_id"`
	Date      schedule.Date      `json:"date"`
	StartTime schedule.ClockTime `json:"start_time"`
	EndTime   schedule.ClockTime `json:"end_time"`
	Status    string             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type PostponeResponse struct {
	Original AppointmentResponse `json:"original"`
	Rebooked AppointmentResponse `json:"rebooked"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID       `json:"doctor_id"`
	Date     schedule.Date   `json:"date"`
	Slots    []schedule.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toWindowResponse(w *schedule.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:          w.ID,
		DoctorID:    w.DoctorID,
		Date:        w.Date,
		StartTime:   w.Start,
		EndTime:     w.End,
		ClinicLabel: w.ClinicLabel,
		CreatedAt:   w.CreatedAt,
	}
}

func toAppointmentResponse(a *schedule.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date,
		StartTime: a.Start,
		EndTime:   a.End,
		Status:    string(a.Status),
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
