package agents

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
)

// Repository exposes agent persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	FindEligibleByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.AgentStatus) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// CompleteOrder returns the agent to the pool and credits the delivery.
	CompleteOrder(ctx context.Context, id uuid.UUID) error
}
