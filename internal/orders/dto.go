package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// CreateInput captures the fields required to open a new order.
type CreateInput struct {
	Priority        enums.OrderPriority
	PickupLocation  types.Coordinate
	DropoffLocation types.Coordinate
	PayoutAmount    decimal.Decimal
}

// CancelInput requests order cancellation.
type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
}

// ReleaseInput requests an admin release of the assigned agent so the order
// can be re-dispatched.
type ReleaseInput struct {
	OrderID uuid.UUID
	Reason  string
}

// TransitionInput requests a lifecycle status change on an assigned order.
type TransitionInput struct {
	OrderID uuid.UUID
	AgentID uuid.UUID
	To      enums.OrderStatus
}

// StatusView is the read model returned by the status endpoint.
type StatusView struct {
	OrderID        uuid.UUID           `json:"order_id"`
	Status         enums.OrderStatus   `json:"status"`
	Priority       enums.OrderPriority `json:"priority"`
	AgentID        *uuid.UUID          `json:"agent_id,omitempty"`
	AssignedAt     *time.Time          `json:"assigned_at,omitempty"`
	SearchAttempts int                 `json:"search_attempts"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
