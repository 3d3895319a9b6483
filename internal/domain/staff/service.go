package staff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultSlotDuration is used when an assignment does not specify one.
	DefaultSlotDuration = 15

	minSlotDuration = 5
	maxSlotDuration = 120
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateAssignment(ctx context.Context, a *Assignment) error {
	if a.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if a.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if a.SlotDurationMinutes == 0 {
		a.SlotDurationMinutes = DefaultSlotDuration
	}
	if a.SlotDurationMinutes < minSlotDuration || a.SlotDurationMinutes > maxSlotDuration {
		return fmt.Errorf("slot_duration_minutes must be between %d and %d", minSlotDuration, maxSlotDuration)
	}
	return s.repo.Create(ctx, a)
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateAssignment(ctx context.Context, a *Assignment) error {
	if a.SlotDurationMinutes < minSlotDuration || a.SlotDurationMinutes > maxSlotDuration {
		return fmt.Errorf("slot_duration_minutes must be between %d and %d", minSlotDuration, maxSlotDuration)
	}
	return s.repo.Update(ctx, a)
}

func (s *Service) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListAssignments(ctx context.Context, entityID string, activeOnly bool, limit, offset int) ([]*Assignment, int, error) {
	if entityID == "" {
		return nil, 0, fmt.Errorf("entity_id is required")
	}
	return s.repo.ListByEntity(ctx, entityID, activeOnly, limit, offset)
}
