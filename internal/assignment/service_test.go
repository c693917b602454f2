package assignment

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
)

func geoRound(agents ...*stubAgentEntry) []geoindex.Candidate {
	out := make([]geoindex.Candidate, 0, len(agents))
	for _, entry := range agents {
		out = append(out, geoindex.Candidate{AgentID: entry.id, DistanceM: entry.distanceM})
	}
	return out
}

type stubAgentEntry struct {
	id        uuid.UUID
	distanceM float64
}

func TestAssignOrderDispatchesOffers(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	near := f.seedOnlineAgent()
	far := f.seedOnlineAgent()
	geo.rounds = [][]geoindex.Candidate{geoRound(
		&stubAgentEntry{id: near.ID, distanceM: 400},
		&stubAgentEntry{id: far.ID, distanceM: 2600},
	)}

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Unassignable {
		t.Fatal("offers were available, order must not be unassignable")
	}
	if len(result.AgentsOffered) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(result.AgentsOffered))
	}
	if result.AgentsOffered[0] != near.ID {
		t.Fatal("nearest agent must be offered first")
	}
	if len(f.notifier.pushed) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(f.notifier.pushed))
	}
	if !f.outbox.has(enums.EventOfferSetDispatched) {
		t.Fatal("expected offer_set_dispatched event")
	}
	if f.orders.orders[order.ID].Status != enums.OrderStatusSearchingAgent {
		t.Fatal("dispatching offers must not change order status")
	}
	if f.orders.orders[order.ID].SearchAttempts != 1 {
		t.Fatalf("expected one recorded attempt, got %d", f.orders.orders[order.ID].SearchAttempts)
	}
}

func TestAssignOrderEscalatesRadius(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	agent := f.seedOnlineAgent()
	// Two empty rounds before anyone is in range.
	geo.rounds = [][]geoindex.Candidate{
		nil,
		nil,
		geoRound(&stubAgentEntry{id: agent.ID, distanceM: 900}),
	}

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempt != 3 {
		t.Fatalf("expected third attempt to land, got %d", result.Attempt)
	}
	if len(geo.radii) != 3 {
		t.Fatalf("expected 3 radius queries, got %d", len(geo.radii))
	}
	if geo.radii[0] != 5000 || geo.radii[1] != 7500 || geo.radii[2] != 11250 {
		t.Fatalf("radius must grow geometrically, got %v", geo.radii)
	}
	if !f.outbox.has(enums.EventAssignmentRetried) {
		t.Fatal("expected assignment_retried event on escalation")
	}
}

func TestAssignOrderExhaustionIsValidOutcome(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("running out of agents must not be an error, got %v", err)
	}
	if !result.Unassignable {
		t.Fatal("expected unassignable result")
	}
	if f.orders.orders[order.ID].Status != enums.OrderStatusSearchingAgent {
		t.Fatal("exhausted order must stay searching")
	}
	if !f.outbox.has(enums.EventOrderUnassignable) {
		t.Fatal("expected order_unassignable event")
	}
}

func TestAssignOrderGeoOutageLeavesOrderUntouched(t *testing.T) {
	geo := &stubGeo{err: pkgerrors.New(pkgerrors.CodeDependency, "redis down")}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()

	_, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if f.orders.orders[order.ID].SearchAttempts != 0 {
		t.Fatal("outage must not consume search attempts")
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("outage must not emit events")
	}
}

func TestAssignOrderRejectsNonSearchingOrder(t *testing.T) {
	f := newPipelineFixture(t, &stubGeo{})
	order := f.seedSearchingOrder()
	agentID := uuid.New()
	order.Status = enums.OrderStatusAssigned
	order.AgentID = &agentID

	_, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestAssignOrderIsIdempotentAcrossReruns(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	agent := f.seedOnlineAgent()
	round := geoRound(&stubAgentEntry{id: agent.ID, distanceM: 500})
	geo.rounds = [][]geoindex.Candidate{round, round}

	first, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.AgentsOffered) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(first.AgentsOffered))
	}

	// The offer is still live, so a re-run writes nothing new.
	second, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error on re-run: %v", err)
	}
	if len(second.AgentsOffered) != 0 && !second.Unassignable {
		t.Fatalf("re-run must not duplicate live offers, got %v", second.AgentsOffered)
	}
	if len(f.notifier.pushed) != 1 {
		t.Fatalf("agent must be notified once, got %d pushes", len(f.notifier.pushed))
	}
}

func TestAcceptFirstWinsSecondConflicts(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	first := f.seedOnlineAgent()
	second := f.seedOnlineAgent()
	geo.rounds = [][]geoindex.Candidate{geoRound(
		&stubAgentEntry{id: first.ID, distanceM: 300},
		&stubAgentEntry{id: second.ID, distanceM: 700},
	)}

	if _, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID}); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	assigned, err := f.svc.Accept(context.Background(), order.ID, first.ID)
	if err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if assigned.AgentID == nil || *assigned.AgentID != first.ID {
		t.Fatal("first accepter must win")
	}
	if len(f.assigns.created) != 1 || f.assigns.created[0].ScoreAtOffer <= 0 {
		t.Fatal("assignment row must carry the offered score")
	}

	if _, err := f.svc.Accept(context.Background(), order.ID, second.ID); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for second accept, got %v", err)
	}
	if len(f.assigns.created) != 1 {
		t.Fatal("second accept must not create assignment rows")
	}
}

func TestAcceptWithoutOfferIsConflict(t *testing.T) {
	f := newPipelineFixture(t, &stubGeo{})
	order := f.seedSearchingOrder()
	agent := f.seedOnlineAgent()

	_, err := f.svc.Accept(context.Background(), order.ID, agent.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for missing offer, got %v", err)
	}
}

func TestSelectorDeprioritizesBusyAgents(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	free := f.seedOnlineAgent()
	busy := f.seedOnlineAgent()
	f.agents.agents[busy.ID].Status = enums.AgentStatusOnTrip
	// Busy agent is closer but penalized below the free one.
	round := geoRound(
		&stubAgentEntry{id: busy.ID, distanceM: 100},
		&stubAgentEntry{id: free.ID, distanceM: 600},
	)
	geo.rounds = [][]geoindex.Candidate{round}

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AgentsOffered) != 2 {
		t.Fatalf("expected both agents offered, got %d", len(result.AgentsOffered))
	}
	if result.AgentsOffered[0] != free.ID {
		t.Fatal("free agent must outrank the busy one")
	}
}

func TestSelectorSkipsUnknownAndIneligibleAgents(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	good := f.seedOnlineAgent()
	blocked := f.seedOnlineAgent()
	f.agents.agents[blocked.ID].IsBlocked = true
	geo.rounds = [][]geoindex.Candidate{geoRound(
		&stubAgentEntry{id: good.ID, distanceM: 400},
		&stubAgentEntry{id: blocked.ID, distanceM: 200},
		&stubAgentEntry{id: uuid.New(), distanceM: 100},
	)}

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AgentsOffered) != 1 || result.AgentsOffered[0] != good.ID {
		t.Fatalf("only the eligible agent may be offered, got %v", result.AgentsOffered)
	}
}

func TestDispatchSurvivesPerAgentPushFailures(t *testing.T) {
	geo := &stubGeo{}
	f := newPipelineFixture(t, geo)
	order := f.seedSearchingOrder()
	flaky := f.seedOnlineAgent()
	solid := f.seedOnlineAgent()
	f.notifier.failFor[flaky.ID] = true
	geo.rounds = [][]geoindex.Candidate{geoRound(
		&stubAgentEntry{id: flaky.ID, distanceM: 300},
		&stubAgentEntry{id: solid.ID, distanceM: 500},
	)}

	result, err := f.svc.AssignOrder(context.Background(), AssignOrderInput{OrderID: order.ID})
	if err != nil {
		t.Fatalf("push failures must not abort the round: %v", err)
	}
	// The offer record stands even when the push failed.
	if len(result.AgentsOffered) != 2 {
		t.Fatalf("expected both offers placed, got %d", len(result.AgentsOffered))
	}
	if len(f.notifier.pushed) != 1 || f.notifier.pushed[0] != solid.ID {
		t.Fatal("only the healthy push should land")
	}
}
