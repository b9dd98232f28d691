package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caresched/booking-engine/internal/schedule"
)

func availabilityHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		date, err := schedule.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := coord.Availability(r.Context(), doctorID, date)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			DoctorID: doctorID,
			Date:     date,
			Slots:    slots,
		})
	}
}

func createWindowHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateWindowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		date, start, end, ok := parseInterval(w, req.Date, req.StartTime, req.EndTime)
		if !ok {
			return
		}

		win, err := coord.AddWindow(r.Context(), doctorID, date, start, end, req.ClinicLabel)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWindowResponse(win))
	}
}

func removeWindowHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window_id", "id must be a valid UUID")
			return
		}

		if err := coord.RemoveWindow(r.Context(), id); err != nil {
			writeScheduleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listWindowsHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var from, to schedule.Date
		if v := r.URL.Query().Get("from"); v != "" {
			if from, err = schedule.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
				return
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if to, err = schedule.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
				return
			}
		}

		windows, err := coord.ListWindows(r.Context(), doctorID, from, to)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		date, start, end, ok := parseInterval(w, req.Date, req.StartTime, req.EndTime)
		if !ok {
			return
		}

		appt, err := coord.Book(r.Context(), schedule.BookRequest{
			DoctorID:       doctorID,
			PatientID:      patientID,
			Date:           date,
			Start:          start,
			End:            end,
			Reason:         req.Reason,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := coord.GetAppointment(r.Context(), id)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if v := q.Get("patient_id"); v != "" {
			patientID, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err := coord.ListByPatient(r.Context(), patientID)
			if err != nil {
				writeScheduleError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
			return
		}

		doctorParam := q.Get("doctor_id")
		if doctorParam == "" {
			writeError(w, http.StatusBadRequest, "missing_filter", "doctor_id or patient_id is required")
			return
		}
		doctorID, err := uuid.Parse(doctorParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var from, to schedule.Date
		if v := q.Get("from"); v != "" {
			if from, err = schedule.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
				return
			}
		}
		if v := q.Get("to"); v != "" {
			if to, err = schedule.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
				return
			}
		}

		var statuses []schedule.AppointmentStatus
		for _, s := range q["status"] {
			statuses = append(statuses, schedule.AppointmentStatus(s))
		}

		appts, err := coord.ListByDoctor(r.Context(), doctorID, from, to, statuses)
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func confirmAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := coord.Confirm(r.Context(), id)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := coord.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func postponeAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req PostponeAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, start, end, okInterval := parseInterval(w, req.NewDate, req.NewStartTime, req.NewEndTime)
		if !okInterval {
			return
		}

		old, rebooked, err := coord.Postpone(r.Context(), id, date, start, end, req.Reason)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PostponeResponse{
			Original: toAppointmentResponse(old),
			Rebooked: toAppointmentResponse(rebooked),
		})
	}
}

func completeAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := coord.Complete(r.Context(), id)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(coord *schedule.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		if err := coord.DeleteCancelled(r.Context(), id); err != nil {
			writeScheduleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func parseAppointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseInterval(w http.ResponseWriter, dateStr, startStr, endStr string) (schedule.Date, schedule.ClockTime, schedule.ClockTime, bool) {
	date, err := schedule.ParseDate(dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return schedule.Date{}, 0, 0, false
	}

	start, err := schedule.ParseClockTime(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
		return schedule.Date{}, 0, 0, false
	}

	end, err := schedule.ParseClockTime(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
		return schedule.Date{}, 0, 0, false
	}

	return date, start, end, true
}

func toAppointmentResponses(appts []schedule.Appointment) []AppointmentResponse {
	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i]))
	}
	return resp
}
