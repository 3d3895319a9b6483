package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// WorkingHours defines the clinic's bookable blocks as minutes from midnight.
// A slot must fit entirely inside one block; the gap between blocks is the
// lunch break.
type WorkingHours struct {
	MorningStart   int
	MorningEnd     int
	AfternoonStart int
	AfternoonEnd   int
}

// DayGrid returns the ordered slot start offsets for a day, segmenting each
// working block into contiguous intervals of the given duration. A trailing
// remainder shorter than the duration is dropped.
func (w WorkingHours) DayGrid(durationMinutes int) []int {
	var starts []int
	for _, block := range [][2]int{
		{w.MorningStart, w.MorningEnd},
		{w.AfternoonStart, w.AfternoonEnd},
	} {
		for t := block[0]; t+durationMinutes <= block[1]; t += durationMinutes {
			starts = append(starts, t)
		}
	}
	return starts
}

// Contains reports whether a slot of the given duration starting at
// startMinute lies on the grid.
func (w WorkingHours) Contains(startMinute, durationMinutes int) bool {
	for _, s := range w.DayGrid(durationMinutes) {
		if s == startMinute {
			return true
		}
	}
	return false
}

// BuildSlots produces the full ordered slot list for a staff member's day,
// marking every slot that overlaps a booked appointment as unavailable. The
// booked list must already exclude cancelled appointments.
func BuildSlots(staffID uuid.UUID, date time.Time, durationMinutes int, hours WorkingHours, booked []*Appointment) []Slot {
	starts := hours.DayGrid(durationMinutes)
	slots := make([]Slot, 0, len(starts))
	for _, start := range starts {
		available := true
		for _, a := range booked {
			if overlaps(start, durationMinutes, a.StartMinute, a.DurationMinutes) {
				available = false
				break
			}
		}
		slots = append(slots, Slot{
			StaffID:         staffID,
			Date:            date,
			StartMinute:     start,
			StartTime:       MinutesToClock(start),
			DurationMinutes: durationMinutes,
			Available:       available,
		})
	}
	return slots
}
