package assignment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

func TestSelectBudgetAppliesAfterEligibilityFilter(t *testing.T) {
	agentRepo := newStubAgentRepo()
	round := []geoindex.Candidate{}

	// Unapproved agents crowd the near field up to the candidate budget.
	for i := 0; i < 20; i++ {
		agent := &models.Agent{ID: uuid.New(), Status: enums.AgentStatusOnline}
		agentRepo.agents[agent.ID] = agent
		round = append(round, geoindex.Candidate{AgentID: agent.ID, DistanceM: float64(100 + i)})
	}
	// Eligible agents sit farther out but still inside the radius.
	eligible := make(map[uuid.UUID]bool, 5)
	for i := 0; i < 5; i++ {
		agent := &models.Agent{ID: uuid.New(), Status: enums.AgentStatusOnline, IsApproved: true, AcceptanceRate: 80}
		agentRepo.agents[agent.ID] = agent
		eligible[agent.ID] = true
		round = append(round, geoindex.Candidate{AgentID: agent.ID, DistanceM: float64(3000 + i*10)})
	}

	geo := &stubGeo{rounds: [][]geoindex.Candidate{round, round}}
	selector, err := NewSelector(geo, agentRepo, NewScorer(testAssignmentConfig()))
	if err != nil {
		t.Fatalf("selector build failed: %v", err)
	}

	params := SelectParams{
		Pickup:        types.Coordinate{Lat: 12.97, Lng: 77.59},
		Payout:        decimal.NewFromFloat(6),
		RadiusM:       5000,
		MaxCandidates: 20,
		Limit:         5,
	}
	top, err := selector.Select(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 5 {
		t.Fatalf("expected 5 offers, got %d", len(top))
	}
	for _, candidate := range top {
		if !eligible[candidate.AgentID] {
			t.Fatalf("ineligible agent %s must not receive an offer", candidate.AgentID)
		}
	}
	if len(geo.limits) == 0 || geo.limits[0] != 0 {
		t.Fatalf("radius query must not be capped, got limits %v", geo.limits)
	}

	// A tighter budget keeps the nearest eligible candidates only.
	params.MaxCandidates = 3
	top, err = selector.Select(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3 offers under the tighter budget, got %d", len(top))
	}
	for _, candidate := range top {
		if candidate.DistanceM > 3020 {
			t.Fatalf("budget must keep the nearest eligible candidates, kept %f", candidate.DistanceM)
		}
	}
}

func TestSelectTopOrdersByScoreThenDistance(t *testing.T) {
	a := ScoredCandidate{AgentID: uuid.New(), Score: 50, DistanceM: 900}
	b := ScoredCandidate{AgentID: uuid.New(), Score: 80, DistanceM: 300}
	c := ScoredCandidate{AgentID: uuid.New(), Score: 50, DistanceM: 100}

	top := SelectTop([]ScoredCandidate{a, b, c}, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(top))
	}
	if top[0].AgentID != b.AgentID {
		t.Fatal("highest score must rank first")
	}
	if top[1].AgentID != c.AgentID || top[2].AgentID != a.AgentID {
		t.Fatal("score ties must break on distance ascending")
	}
}

func TestSelectTopLimitsAndCopies(t *testing.T) {
	candidates := []ScoredCandidate{
		{AgentID: uuid.New(), Score: 10},
		{AgentID: uuid.New(), Score: 30},
		{AgentID: uuid.New(), Score: 20},
	}
	top := SelectTop(candidates, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(top))
	}
	if top[0].Score != 30 || top[1].Score != 20 {
		t.Fatalf("unexpected ranking: %+v", top)
	}
	// Input order must be untouched.
	if candidates[0].Score != 10 || candidates[1].Score != 30 {
		t.Fatal("selector must not mutate its input")
	}
}

func TestSelectTopDeterministicAcrossRuns(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	candidates := []ScoredCandidate{
		{AgentID: ids[0], Score: 40, DistanceM: 200},
		{AgentID: ids[1], Score: 40, DistanceM: 200},
		{AgentID: ids[2], Score: 40, DistanceM: 200},
	}

	first := SelectTop(candidates, 3)
	for i := 0; i < 50; i++ {
		again := SelectTop(candidates, 3)
		for j := range first {
			if first[j].AgentID != again[j].AgentID {
				t.Fatal("full ties must produce a stable order")
			}
		}
	}
}

func TestSelectTopEmptyAndZeroLimit(t *testing.T) {
	if got := SelectTop(nil, 5); got != nil {
		t.Fatal("nil input must produce nil")
	}
	if got := SelectTop([]ScoredCandidate{{Score: 1}}, 0); got != nil {
		t.Fatal("zero limit must produce nil")
	}
}
