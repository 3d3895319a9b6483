package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetdesk/opd/internal/domain/staff"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("appointment not found")
	ErrSlotConflict      = errors.New("slot is already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StaffDirectory resolves staff assignments. Satisfied by staff.Service.
type StaffDirectory interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (*staff.Assignment, error)
}

// ConsentRevoker closes the EMR write window for an appointment. Satisfied by
// the consent service; wired in main to avoid a package cycle.
type ConsentRevoker interface {
	RevokeForAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

// Notifier delivers templated messages to owners. Delivery failures on
// booking notifications are logged, never surfaced: the booking itself stands.
type Notifier interface {
	SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) error
}

// BookRequest carries the inputs for booking one slot.
type BookRequest struct {
	StaffID      uuid.UUID
	Date         time.Time
	StartMinute  int
	PetID        uuid.UUID
	OwnerID      uuid.UUID
	OwnerContact *string
	EntityID     string
	VisitType    string
	Reason       *string
	Notes        *string
}

type Service struct {
	repo     Repository
	staffDir StaffDirectory
	hours    WorkingHours
	consent  ConsentRevoker
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, staffDir StaffDirectory, hours WorkingHours, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		staffDir: staffDir,
		hours:    hours,
		logger:   logger,
		now:      time.Now,
	}
}

// SetConsentRevoker attaches the consent gate. Optional: without it,
// completion simply skips the revoke step.
func (s *Service) SetConsentRevoker(c ConsentRevoker) { s.consent = c }

// SetNotifier attaches the outbound notification channel.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// activeStaff resolves a staff assignment and rejects inactive ones.
func (s *Service) activeStaff(ctx context.Context, staffID uuid.UUID) (*staff.Assignment, error) {
	sa, err := s.staffDir.GetAssignment(ctx, staffID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown staff %s", ErrInvalidRequest, staffID)
		}
		return nil, err
	}
	if !sa.Active {
		return nil, fmt.Errorf("%w: staff %s is not active", ErrInvalidRequest, staffID)
	}
	return sa, nil
}

// AvailableSlots returns the full ordered slot grid for a staff member's day,
// with each slot marked available or taken. Recomputed from the ledger on
// every call.
func (s *Service) AvailableSlots(ctx context.Context, staffID uuid.UUID, date time.Time) ([]Slot, error) {
	sa, err := s.activeStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}

	date = DateOnly(date)
	if date.Before(DateOnly(s.now())) {
		return nil, fmt.Errorf("%w: date is in the past", ErrInvalidRequest)
	}

	booked, err := s.repo.ListForStaffDay(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	return BuildSlots(staffID, date, sa.SlotDurationMinutes, s.hours, booked), nil
}

// Book creates a scheduled appointment in the requested slot. The slot
// uniqueness constraint in storage arbitrates concurrent bookings: exactly
// one wins, the rest get ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.PetID == uuid.Nil {
		return nil, fmt.Errorf("%w: pet_id is required", ErrInvalidRequest)
	}
	if req.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidRequest)
	}
	if req.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidRequest)
	}

	sa, err := s.activeStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}

	date := DateOnly(req.Date)
	if date.Before(DateOnly(s.now())) {
		return nil, fmt.Errorf("%w: date is in the past", ErrInvalidRequest)
	}
	if !s.hours.Contains(req.StartMinute, sa.SlotDurationMinutes) {
		return nil, fmt.Errorf("%w: %s is not a bookable slot", ErrInvalidRequest, MinutesToClock(req.StartMinute))
	}

	a := &Appointment{
		EntityID:        req.EntityID,
		PetID:           req.PetID,
		OwnerID:         req.OwnerID,
		OwnerContact:    req.OwnerContact,
		StaffID:         req.StaffID,
		Date:            date,
		StartMinute:     req.StartMinute,
		DurationMinutes: sa.SlotDurationMinutes,
		VisitType:       req.VisitType,
		Status:          StatusScheduled,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, a, "appointment-booked", nil)
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.EntityID == "" {
		return nil, 0, fmt.Errorf("%w: entity_id is required", ErrInvalidRequest)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// applyEvent loads an appointment, runs the pure transition function, and
// persists the outcome with a compare-and-swap on the status the transition
// was computed from. A CAS miss means a concurrent transition won; the event
// is re-evaluated against the fresh status, so an appointment that reached a
// terminal state meanwhile rejects the event instead of being overwritten.
func (s *Service) applyEvent(ctx context.Context, id uuid.UUID, ev Event, reason *string) (*Appointment, error) {
	for attempt := 0; attempt < 3; attempt++ {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := NextStatus(a.Status, ev)
		if err != nil {
			return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, a.Status)
		}
		err = s.repo.UpdateStatus(ctx, id, a.Status, next, reason)
		if errors.Is(err, errStaleStatus) {
			continue
		}
		if err != nil {
			return nil, err
		}
		a.Status = next
		if reason != nil {
			a.Reason = reason
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s lost to concurrent updates", ErrInvalidTransition, ev)
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.applyEvent(ctx, id, EventConfirm, nil)
	if err != nil {
		return nil, err
	}
	s.notifyOwner(ctx, a, "appointment-confirmed", nil)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := s.applyEvent(ctx, id, EventCancel, reason)
	if err != nil {
		return nil, err
	}
	data := map[string]string{"reason": "not given"}
	if reason != nil {
		data["reason"] = *reason
	}
	s.notifyOwner(ctx, a, "appointment-cancelled", data)
	return a, nil
}

// StartConsultation moves an appointment to in-progress. Future visits cannot
// be started. EMR write access is gated separately by the consent service; a
// visit may begin before consent is granted.
func (s *Service) StartConsultation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if DateOnly(a.Date).After(DateOnly(s.now())) {
		return nil, fmt.Errorf("%w: cannot start a future appointment", ErrInvalidTransition)
	}
	return s.applyEvent(ctx, id, EventStart, nil)
}

// EndConsultation completes an appointment. The consent gate is revoked
// before the status write: a completed visit must never retain an open EMR
// write window, so a failed revoke aborts completion and leaves the
// appointment in-progress for a retry. Revoke is idempotent, so a retry
// after a revoked-but-not-completed failure is safe.
func (s *Service) EndConsultation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := NextStatus(a.Status, EventComplete); err != nil {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, EventComplete, a.Status)
	}
	if s.consent != nil {
		if err := s.consent.RevokeForAppointment(ctx, id); err != nil {
			return nil, fmt.Errorf("revoking consent before completion: %w", err)
		}
	}
	return s.applyEvent(ctx, id, EventComplete, nil)
}

// MarkNoShow flags a missed appointment. Only valid once the scheduled start
// has passed.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.now().Before(a.StartsAt()) {
		return nil, fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
	}
	return s.applyEvent(ctx, id, EventNoShow, nil)
}

// SweepNoShows transitions stale scheduled/confirmed appointments whose start
// time passed more than grace ago. Intended to run on a ticker.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	n, err := s.repo.MarkNoShows(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("swept stale appointments to no-show")
	}
	return n, nil
}

func (s *Service) notifyOwner(ctx context.Context, a *Appointment, templateID string, extra map[string]string) {
	if s.notifier == nil || a.OwnerContact == nil || *a.OwnerContact == "" {
		return
	}
	data := map[string]string{
		"appointment_no": a.AppointmentNo,
		"pet_name":       a.PetID.String(),
		"owner_name":     "pet owner",
		"date":           a.Date.Format("2006-01-02"),
		"time":           MinutesToClock(a.StartMinute),
		"doctor":         a.StaffID.String(),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.notifier.SendTemplate(ctx, templateID, data, *a.OwnerContact); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).
			Str("template", templateID).Msg("owner notification failed")
	}
}
