package assignment

import (
	"math"

	"github.com/swiftfleet/dispatch-backend/pkg/config"
)

// EscalationPolicy decides how far and how often the candidate search widens
// when an offer round resolves without an assignment.
type EscalationPolicy struct {
	baseRadiusM  float64
	growthFactor float64
	maxAttempts  int
}

// NewEscalationPolicy derives the policy from the assignment configuration.
func NewEscalationPolicy(cfg config.AssignmentConfig) EscalationPolicy {
	return EscalationPolicy{
		baseRadiusM:  cfg.SearchRadiusMeters,
		growthFactor: cfg.RadiusGrowthFactor,
		maxAttempts:  cfg.EscalationMaxAttempts,
	}
}

// MaxAttempts is the number of search rounds before an order is declared
// unassignable for this cycle.
func (p EscalationPolicy) MaxAttempts() int {
	if p.maxAttempts <= 0 {
		return 1
	}
	return p.maxAttempts
}

// RadiusForAttempt grows the search radius geometrically. Attempt zero uses the
// base radius.
func (p EscalationPolicy) RadiusForAttempt(attempt int) float64 {
	if attempt <= 0 {
		return p.baseRadiusM
	}
	return p.baseRadiusM * math.Pow(p.growthFactor, float64(attempt))
}
