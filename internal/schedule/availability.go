package schedule

import "sort"

// ComputeSlots subtracts the active appointment intervals from the doctor's
// published windows for one date and returns the bookable residuals, ordered
// by start time. Residuals shorter than minDuration (minutes) are dropped.
//
// The result is a derived view: it is recomputed from the two inputs every
// time, so it can never drift from the ledger.
func ComputeSlots(windows []AvailabilityWindow, appts []Appointment, minDuration ClockTime) []Slot {
	sorted := make([]AvailabilityWindow, len(windows))
	copy(sorted, windows)
	sortWindows(sorted)

	var slots []Slot
	for _, w := range sorted {
		slots = append(slots, windowResiduals(w, appts, minDuration)...)
	}
	return slots
}

// windowResiduals returns the parts of one window not covered by any active
// appointment. Appointments wholly outside the window are ignored;
// partially overlapping ones are clipped to the window boundary first.
func windowResiduals(w AvailabilityWindow, appts []Appointment, minDuration ClockTime) []Slot {
	type span struct{ start, end ClockTime }

	var busy []span
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		if !a.Overlaps(w.Date, w.Start, w.End) {
			continue
		}
		s := span{start: a.Start, end: a.End}
		if s.start < w.Start {
			s.start = w.Start
		}
		if s.end > w.End {
			s.end = w.End
		}
		busy = append(busy, s)
	}

	sort.Slice(busy, func(i, j int) bool { return busy[i].start < busy[j].start })

	var out []Slot
	cursor := w.Start
	emit := func(start, end ClockTime) {
		if end-start >= minDuration && end > start {
			out = append(out, Slot{
				Start:       start,
				End:         end,
				ClinicLabel: w.ClinicLabel,
				Bookable:    true,
			})
		}
	}

	for _, b := range busy {
		if b.start > cursor {
			emit(cursor, b.start)
		}
		if b.end > cursor {
			cursor = b.end
		}
	}
	emit(cursor, w.End)

	return out
}

// Covered reports whether [start, end) lies entirely inside one of the
// windows for the given date.
func Covered(windows []AvailabilityWindow, date Date, start, end ClockTime) bool {
	for _, w := range windows {
		if w.Date.Equal(date) && w.Start <= start && end <= w.End {
			return true
		}
	}
	return false
}
