package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an assignment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, assignment *models.OrderAssignment) (*models.OrderAssignment, error) {
	if err := r.db.WithContext(ctx).Create(assignment).Error; err != nil {
		return nil, err
	}
	return assignment, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderAssignment, error) {
	var row models.OrderAssignment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND active", orderID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.OrderAssignment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.OrderAssignment
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("assigned_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ReleaseActiveTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	updates := map[string]any{
		"active":      false,
		"released_at": time.Now().UTC(),
	}
	if reason != "" {
		updates["release_reason"] = reason
	}
	return tx.WithContext(ctx).
		Model(&models.OrderAssignment{}).
		Where("order_id = ? AND active", orderID).
		Updates(updates).Error
}
