package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderAssignment captures agent assignment history for an order. At most one
// row per order may be active at a time.
type OrderAssignment struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	AgentID       uuid.UUID  `gorm:"column:agent_id;type:uuid;not null"`
	AssignedAt    time.Time  `gorm:"column:assigned_at;autoCreateTime"`
	ReleasedAt    *time.Time `gorm:"column:released_at"`
	ReleaseReason *string    `gorm:"column:release_reason"`
	Active        bool       `gorm:"column:active;not null;default:true"`
	ScoreAtOffer  float64    `gorm:"column:score_at_offer;not null;default:0"`
	DistanceM     float64    `gorm:"column:distance_m;not null;default:0"`
}
