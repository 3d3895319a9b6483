package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// errStaleStatus signals a compare-and-swap miss: the stored status changed
// between the caller's read and its conditional write.
var errStaleStatus = errors.New("appointment status changed concurrently")

// ListFilter narrows appointment listings.
type ListFilter struct {
	EntityID string
	StaffID  *uuid.UUID
	PetID    *uuid.UUID
	OwnerID  *uuid.UUID
	Date     *time.Time
	Status   Status
}

type Repository interface {
	// Create persists a new appointment, assigning its ID and appointment
	// number. Returns ErrSlotConflict if a non-cancelled appointment already
	// holds the same (staff, date, start) slot.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves an appointment from an expected current status to a
	// new one and optionally records a reason. The write is conditional on
	// the stored status still matching from; a miss returns errStaleStatus
	// so the caller can re-read and re-evaluate the transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) error
	// ListForStaffDay returns all non-cancelled appointments for a staff
	// member on a calendar day, ordered by start time.
	ListForStaffDay(ctx context.Context, staffID uuid.UUID, date time.Time) ([]*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// MarkNoShows transitions scheduled/confirmed appointments whose start
	// time passed before the cutoff to no-show, returning the number updated.
	MarkNoShows(ctx context.Context, cutoff time.Time) (int, error)
}
