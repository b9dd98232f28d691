package schedule

import "sort"

func sortWindows(ws []AvailabilityWindow) {
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].Date.Equal(ws[j].Date) {
			return ws[i].Date.Before(ws[j].Date)
		}
		return ws[i].Start < ws[j].Start
	})
}

func sortAppointments(as []Appointment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].Date.Equal(as[j].Date) {
			return as[i].Date.Before(as[j].Date)
		}
		if as[i].Start != as[j].Start {
			return as[i].Start < as[j].Start
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}
