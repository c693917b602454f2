package assignment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
)

// Repository exposes assignment-history persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, assignment *models.OrderAssignment) (*models.OrderAssignment, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderAssignment, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.OrderAssignment, error)
	ReleaseActiveTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}
