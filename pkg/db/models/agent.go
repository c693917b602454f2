package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
)

// Agent is a delivery agent profile. Rating is nil until the agent has at
// least one rated delivery; scoring substitutes a neutral default.
type Agent struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string            `gorm:"column:name;not null"`
	Phone          *string           `gorm:"column:phone"`
	Status         enums.AgentStatus `gorm:"column:status;type:agent_status_enum;not null;default:'offline'"`
	IsApproved     bool              `gorm:"column:is_approved;not null;default:false"`
	IsBlocked      bool              `gorm:"column:is_blocked;not null;default:false"`
	CurrentOrderID *uuid.UUID        `gorm:"column:current_order_id;type:uuid"`
	AcceptanceRate float64           `gorm:"column:acceptance_rate;not null;default:0"`
	Rating         *float64          `gorm:"column:rating"`
	TotalOrders    int               `gorm:"column:total_orders;not null;default:0"`
	LastSeenAt     *time.Time        `gorm:"column:last_seen_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
