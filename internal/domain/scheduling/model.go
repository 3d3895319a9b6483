package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is an appointment lifecycle status.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// Appointment maps to the appointment table. Times are stored as a calendar
// date plus a start offset in minutes from midnight, which keeps slot
// arithmetic integral and timezone-free.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	AppointmentNo   string    `db:"appointment_no" json:"appointment_no"`
	EntityID        string    `db:"entity_id" json:"entity_id"`
	PetID           uuid.UUID `db:"pet_id" json:"pet_id"`
	OwnerID         uuid.UUID `db:"owner_id" json:"owner_id"`
	OwnerContact    *string   `db:"owner_contact" json:"owner_contact,omitempty"`
	StaffID         uuid.UUID `db:"staff_id" json:"staff_id"`
	Date            time.Time `db:"date" json:"date"`
	StartMinute     int       `db:"start_minute" json:"start_minute"`
	StartTime       string    `db:"-" json:"start_time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	VisitType       string    `db:"visit_type" json:"visit_type"`
	Status          Status    `db:"status" json:"status"`
	Reason          *string   `db:"reason" json:"reason,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// StartsAt returns the appointment's wall-clock start.
func (a *Appointment) StartsAt() time.Time {
	d := a.Date
	return time.Date(d.Year(), d.Month(), d.Day(), 0, a.StartMinute, 0, 0, d.Location())
}

// Slot is a derived bookable interval on a staff member's day. Slots are
// never persisted; they are recomputed from the appointment ledger on each
// request.
type Slot struct {
	StaffID         uuid.UUID `json:"staff_id"`
	Date            time.Time `json:"date"`
	StartMinute     int       `json:"start_minute"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
}

// MinutesToClock formats minutes-from-midnight as "HH:MM".
func MinutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ClockToMinutes parses "HH:MM" into minutes from midnight.
func ClockToMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

// DateOnly truncates a time to its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AppointmentNo builds the human-readable appointment number for the n-th
// booking of a given day, e.g. "OPD-20260902-0004".
func AppointmentNo(date time.Time, seq int) string {
	return fmt.Sprintf("OPD-%s-%04d", date.Format("20060102"), seq)
}

// overlaps reports whether [aStart, aStart+aDur) and [bStart, bStart+bDur)
// intersect.
func overlaps(aStart, aDur, bStart, bDur int) bool {
	return aStart < bStart+bDur && bStart < aStart+aDur
}
