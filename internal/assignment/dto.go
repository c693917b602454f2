package assignment

import (
	"time"

	"github.com/google/uuid"
)

// ScoredCandidate is an eligible agent ranked for an order.
type ScoredCandidate struct {
	AgentID   uuid.UUID
	Score     float64
	DistanceM float64
	Busy      bool
}

// AssignOrderInput identifies the order to run the pipeline for.
type AssignOrderInput struct {
	OrderID uuid.UUID
}

// AssignOrderResult reports what one pipeline run did. Assigned stays false on
// the offer path; acceptance resolves asynchronously through Accept.
type AssignOrderResult struct {
	OrderID       uuid.UUID   `json:"order_id"`
	Attempt       int         `json:"attempt"`
	SearchRadiusM float64     `json:"search_radius_m"`
	AgentsOffered []uuid.UUID `json:"agents_offered"`
	Assigned      bool        `json:"assigned"`
	AgentID       *uuid.UUID  `json:"agent_id,omitempty"`
	Unassignable  bool        `json:"unassignable"`
}

// offerPayload is the JSON stored behind an offer key so the committer can
// recover the score the agent was offered at.
type offerPayload struct {
	Score     float64   `json:"score"`
	DistanceM float64   `json:"distance_m"`
	PlacedAt  time.Time `json:"placed_at"`
}
