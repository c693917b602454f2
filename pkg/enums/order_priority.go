package enums

import "fmt"

// OrderPriority influences candidate scoring during assignment.
type OrderPriority string

const (
	OrderPriorityHigh   OrderPriority = "high"
	OrderPriorityNormal OrderPriority = "normal"
	OrderPriorityLow    OrderPriority = "low"
)

var validOrderPriorities = []OrderPriority{
	OrderPriorityHigh,
	OrderPriorityNormal,
	OrderPriorityLow,
}

// String implements fmt.Stringer.
func (p OrderPriority) String() string {
	return string(p)
}

// IsValid reports whether the value is a known OrderPriority.
func (p OrderPriority) IsValid() bool {
	for _, candidate := range validOrderPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseOrderPriority converts raw input into an OrderPriority.
func ParseOrderPriority(value string) (OrderPriority, error) {
	for _, candidate := range validOrderPriorities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order priority %q", value)
}
