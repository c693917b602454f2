package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// Order is the canonical delivery order record. AgentID is set exactly once,
// by the first committed assignment, and cleared only when the agent is
// released back to the pool.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status_enum;not null;default:'searching_agent'"`
	Priority        enums.OrderPriority `gorm:"column:priority;type:order_priority_enum;not null;default:'normal'"`
	PickupLocation  types.Coordinate    `gorm:"column:pickup_location;type:geography(Point,4326);not null"`
	DropoffLocation types.Coordinate    `gorm:"column:dropoff_location;type:geography(Point,4326);not null"`
	PayoutAmount    decimal.Decimal     `gorm:"column:payout_amount;type:numeric(12,2);not null"`
	AgentID         *uuid.UUID          `gorm:"column:agent_id;type:uuid"`
	AssignedAt      *time.Time          `gorm:"column:assigned_at"`
	SearchAttempts  int                 `gorm:"column:search_attempts;not null;default:0"`
	CancelReason    *string             `gorm:"column:cancel_reason"`
	DeliveredAt     *time.Time          `gorm:"column:delivered_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
