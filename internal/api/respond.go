package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/caresched/booking-engine/internal/redislock"
	"github.com/caresched/booking-engine/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeScheduleError maps the engine's typed errors onto HTTP statuses.
// Conflicts against existing data and state-machine violations are 409 so
// the caller knows to re-fetch availability; coverage failures are 422.
func writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, schedule.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, schedule.ErrWindowNotFound):
		writeError(w, http.StatusNotFound, "window_not_found", err.Error())
	case errors.Is(err, schedule.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, schedule.ErrOutsideAvailability):
		writeError(w, http.StatusUnprocessableEntity, "outside_availability", err.Error())
	case errors.Is(err, schedule.ErrOverlap):
		writeError(w, http.StatusConflict, "window_overlap", err.Error())
	case errors.Is(err, schedule.ErrWindowInUse):
		writeError(w, http.StatusConflict, "window_in_use", err.Error())
	case errors.Is(err, schedule.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, schedule.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, schedule.ErrStaleState):
		writeError(w, http.StatusConflict, "stale_state", err.Error())
	case errors.Is(err, schedule.ErrNotCompletable):
		writeError(w, http.StatusConflict, "not_completable", err.Error())
	case errors.Is(err, schedule.ErrNotDeletable):
		writeError(w, http.StatusConflict, "not_deletable", err.Error())
	case errors.Is(err, redislock.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "calendar_busy", "doctor calendar is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
