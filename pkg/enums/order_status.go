package enums

import "fmt"

// OrderStatus tracks the delivery order lifecycle.
type OrderStatus string

const (
	OrderStatusSearchingAgent OrderStatus = "searching_agent"
	OrderStatusAssigned       OrderStatus = "assigned"
	OrderStatusPickedUp       OrderStatus = "picked_up"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelayed        OrderStatus = "delayed"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusSearchingAgent,
	OrderStatusAssigned,
	OrderStatusPickedUp,
	OrderStatusOutForDelivery,
	OrderStatusDelayed,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// orderTransitions is the allowed transition table. The lifecycle is monotonic
// except delayed ⇄ out_for_delivery, which is timer-driven.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusSearchingAgent: {OrderStatusAssigned, OrderStatusCancelled},
	OrderStatusAssigned:       {OrderStatusPickedUp, OrderStatusCancelled},
	OrderStatusPickedUp:       {OrderStatusOutForDelivery, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelayed, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelayed:        {OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can no longer change state.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusDelivered || o == OrderStatusCancelled
}

// RequiresAgent reports whether an order in this status must carry an agent id.
func (o OrderStatus) RequiresAgent() bool {
	switch o {
	case OrderStatusAssigned, OrderStatusPickedUp, OrderStatusOutForDelivery, OrderStatusDelayed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (o OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[o] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
