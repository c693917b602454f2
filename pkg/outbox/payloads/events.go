package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order entered the assignment pipeline.
type OrderCreatedEvent struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Priority  enums.OrderPriority `json:"priority"`
	PickupLat float64             `json:"pickup_lat"`
	PickupLng float64             `json:"pickup_lng"`
}

// OrderAssignedEvent is emitted when an agent wins the order.
type OrderAssignedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	AgentID    uuid.UUID `json:"agent_id"`
	Score      float64   `json:"score"`
	DistanceM  float64   `json:"distance_m"`
	AssignedAt time.Time `json:"assigned_at"`
}

// OrderUnassignableEvent is emitted when escalation exhausts every attempt.
type OrderUnassignableEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	SearchAttempts int       `json:"search_attempts"`
	FinalRadiusM   float64   `json:"final_radius_m"`
}

// OrderCancelledEvent is emitted whenever an order is cancelled.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
	CancelledAt time.Time  `json:"cancelled_at"`
	Reason      string     `json:"reason,omitempty"`
}

// OrderStateChangedEvent captures a lifecycle transition on an assigned order.
type OrderStateChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	AgentID    *uuid.UUID        `json:"agent_id,omitempty"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
}

// OrderDeliveredEvent is emitted when the delivery completes.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	AgentID     uuid.UUID `json:"agent_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// AgentReleasedEvent signals the agent returned to the available pool.
type AgentReleasedEvent struct {
	AgentID uuid.UUID `json:"agent_id"`
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// AssignmentRetriedEvent reports an escalation re-run of the search.
type AssignmentRetriedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	Attempt       int       `json:"attempt"`
	SearchRadiusM float64   `json:"search_radius_m"`
}

// OfferSetDispatchedEvent records the batch of offers pushed for an order.
type OfferSetDispatchedEvent struct {
	OrderID      uuid.UUID   `json:"order_id"`
	AgentIDs     []uuid.UUID `json:"agent_ids"`
	OfferTTLSecs int         `json:"offer_ttl_secs"`
}
