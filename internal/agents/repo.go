package agents

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an agents repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return nil, err
	}
	return agent, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) FindEligibleByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Agent
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("is_approved = ? AND is_blocked = ?", true, false).
		Where("status IN ?", []enums.AgentStatus{enums.AgentStatusOnline, enums.AgentStatusOnTrip}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.AgentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) CompleteOrder(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           enums.AgentStatusOnline,
			"current_order_id": nil,
			"total_orders":     gorm.Expr("total_orders + 1"),
		}).Error
}
