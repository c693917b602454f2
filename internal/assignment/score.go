package assignment

import (
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/pkg/config"
)

// CandidateProfile carries the inputs the scorer needs for one agent.
type CandidateProfile struct {
	DistanceM      float64
	AcceptanceRate float64
	Rating         *float64
	TotalOrders    int
	Payout         decimal.Decimal
	HighPriority   bool
	Busy           bool
}

// Scorer ranks candidates using the configured policy weights. Each component
// is normalized to the 0..100 range before weighting.
type Scorer struct {
	cfg config.AssignmentConfig
}

// NewScorer builds a scorer from the assignment configuration.
func NewScorer(cfg config.AssignmentConfig) Scorer {
	return Scorer{cfg: cfg}
}

// Score computes the ranking value for a candidate. Every candidate starts
// from the configured baseline so a weak profile still outranks no offer at
// all; the weighted components and modifiers move it from there. Scores never
// go below zero.
func (s Scorer) Score(profile CandidateProfile) float64 {
	score := s.cfg.BaseScore
	score += s.distanceComponent(profile.DistanceM)
	score += s.acceptanceComponent(profile.AcceptanceRate)
	score += s.ratingComponent(profile.Rating)
	score += s.experienceComponent(profile.TotalOrders)
	score += s.payoutComponent(profile.Payout)

	if profile.HighPriority {
		score += s.cfg.HighPriorityBonus
	}
	if profile.Busy {
		score -= s.cfg.BusyAgentPenalty
	}

	if score < 0 {
		return 0
	}
	return score
}

func (s Scorer) distanceComponent(distanceM float64) float64 {
	raw := 100 - distanceM/s.cfg.MetersPerScorePoint
	if raw < 0 {
		raw = 0
	}
	return raw * s.cfg.DistanceWeight
}

func (s Scorer) acceptanceComponent(rate float64) float64 {
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return rate * s.cfg.AcceptanceWeight
}

func (s Scorer) ratingComponent(rating *float64) float64 {
	normalized := s.cfg.MissingRatingDefault
	if rating != nil {
		normalized = *rating / 5 * 100
		if normalized < 0 {
			normalized = 0
		}
		if normalized > 100 {
			normalized = 100
		}
	}
	return normalized * s.cfg.RatingWeight
}

func (s Scorer) experienceComponent(totalOrders int) float64 {
	raw := float64(totalOrders)
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return raw * s.cfg.ExperienceWeight
}

func (s Scorer) payoutComponent(payout decimal.Decimal) float64 {
	amount, _ := payout.Float64()
	if amount < 0 {
		amount = 0
	}
	raw := amount / s.cfg.PayoutPerScorePoint
	if raw > 100 {
		raw = 100
	}
	return raw * s.cfg.PayoutWeight
}
