package assignment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// SelectParams describes one candidate search round.
type SelectParams struct {
	Pickup        types.Coordinate
	Payout        decimal.Decimal
	Priority      enums.OrderPriority
	RadiusM       float64
	MaxCandidates int
	Limit         int
}

// Selector finds, filters, and ranks candidate agents for an order.
type Selector struct {
	geo       geoindex.Index
	agentRepo agents.Repository
	scorer    Scorer
}

// NewSelector wires the selector dependencies.
func NewSelector(geo geoindex.Index, agentRepo agents.Repository, scorer Scorer) (*Selector, error) {
	if geo == nil {
		return nil, fmt.Errorf("geo index required")
	}
	if agentRepo == nil {
		return nil, fmt.Errorf("agents repository required")
	}
	return &Selector{geo: geo, agentRepo: agentRepo, scorer: scorer}, nil
}

// Select runs radius query, bulk eligibility fetch, scoring, and ranking. An
// empty result is a valid outcome, not an error. The radius query is
// unbounded; MaxCandidates budgets the eligible pool after filtering so
// nearby ineligible agents cannot mask eligible ones farther out.
func (s *Selector) Select(ctx context.Context, params SelectParams) ([]ScoredCandidate, error) {
	nearby, err := s.geo.QueryRadius(ctx, params.Pickup, params.RadiusM, 0)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(nearby))
	for _, candidate := range nearby {
		ids = append(ids, candidate.AgentID)
	}
	eligible, err := s.agentRepo.FindEligibleByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching candidate agents")
	}
	byID := make(map[uuid.UUID]models.Agent, len(eligible))
	for _, agent := range eligible {
		byID[agent.ID] = agent
	}

	highPriority := params.Priority == enums.OrderPriorityHigh
	scored := make([]ScoredCandidate, 0, len(nearby))
	for _, candidate := range nearby {
		// Radius results arrive nearest first, so the budget keeps the
		// closest eligible candidates.
		if params.MaxCandidates > 0 && len(scored) >= params.MaxCandidates {
			break
		}
		agent, ok := byID[candidate.AgentID]
		if !ok {
			continue
		}
		busy := agent.Status == enums.AgentStatusOnTrip
		score := s.scorer.Score(CandidateProfile{
			DistanceM:      candidate.DistanceM,
			AcceptanceRate: agent.AcceptanceRate,
			Rating:         agent.Rating,
			TotalOrders:    agent.TotalOrders,
			Payout:         params.Payout,
			HighPriority:   highPriority,
			Busy:           busy,
		})
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredCandidate{
			AgentID:   candidate.AgentID,
			Score:     score,
			DistanceM: candidate.DistanceM,
			Busy:      busy,
		})
	}

	return SelectTop(scored, params.Limit), nil
}

// SelectTop orders candidates by score descending and returns at most limit
// entries. Ties break on distance ascending, then agent ID, so repeated runs
// over the same inputs always produce the same offer set.
func SelectTop(candidates []ScoredCandidate, limit int) []ScoredCandidate {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}

	ranked := make([]ScoredCandidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].DistanceM != ranked[j].DistanceM {
			return ranked[i].DistanceM < ranked[j].DistanceM
		}
		return strings.Compare(ranked[i].AgentID.String(), ranked[j].AgentID.String()) < 0
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
