package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateAgent      OutboxAggregateType = "agent"
	AggregateAssignment OutboxAggregateType = "assignment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateAgent,
	AggregateAssignment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderAssigned      OutboxEventType = "order_assigned"
	EventOrderUnassignable  OutboxEventType = "order_unassignable"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderStateChanged  OutboxEventType = "order_state_changed"
	EventOrderDelivered     OutboxEventType = "order_delivered"
	EventAgentReleased      OutboxEventType = "agent_released"
	EventAssignmentRetried  OutboxEventType = "assignment_retried"
	EventOfferSetDispatched OutboxEventType = "offer_set_dispatched"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderAssigned,
	EventOrderUnassignable,
	EventOrderCancelled,
	EventOrderStateChanged,
	EventOrderDelivered,
	EventAgentReleased,
	EventAssignmentRetried,
	EventOfferSetDispatched,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
