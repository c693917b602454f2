package agents

import (
	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// RegisterInput captures the fields required to onboard an agent.
type RegisterInput struct {
	Name  string
	Phone *string
}

// HeartbeatInput carries a live position report from an agent device.
type HeartbeatInput struct {
	AgentID  uuid.UUID
	Location types.Coordinate
}

// SetStatusInput requests an availability change.
type SetStatusInput struct {
	AgentID uuid.UUID
	Status  enums.AgentStatus
}
