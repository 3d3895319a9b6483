package staff

import (
	"time"

	"github.com/google/uuid"
)

// Assignment maps to the staff_assignment table. It represents a doctor
// available for outpatient consultations at a clinic, together with the slot
// duration used to derive that doctor's booking grid.
type Assignment struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	EntityID            string    `db:"entity_id" json:"entity_id"`
	FullName            string    `db:"full_name" json:"full_name"`
	JobTitle            string    `db:"job_title" json:"job_title"`
	SlotDurationMinutes int       `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	Active              bool      `db:"active" json:"active"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
