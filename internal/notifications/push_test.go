package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(ctx context.Context) (string, error) {
	return r.id, r.err
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{id: "m1", err: p.err}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestPushOfferToAgentSetsRoutingAttributes(t *testing.T) {
	pub := &fakePublisher{}
	svc := newPushServiceWith(pub, testLogger())
	agentID := uuid.New()

	notice := assignment.OfferNotice{
		OrderID:   uuid.New(),
		Payout:    decimal.NewFromFloat(5.25),
		Pickup:    types.Coordinate{Lat: 12.97, Lng: 77.59},
		DistanceM: 800,
		ExpiresAt: time.Now().Add(30 * time.Second),
	}
	if err := svc.PushOfferToAgent(context.Background(), agentID, notice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["agent_id"] != agentID.String() {
		t.Fatal("agent_id attribute must carry the target agent")
	}
	if msg.Attributes["kind"] != KindOffer {
		t.Fatalf("expected offer kind, got %q", msg.Attributes["kind"])
	}

	var decoded assignment.OfferNotice
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("message data must be the notice JSON: %v", err)
	}
	if decoded.OrderID != notice.OrderID {
		t.Fatal("notice payload mismatch")
	}
}

func TestPushSurfacesPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic unavailable")}
	svc := newPushServiceWith(pub, testLogger())

	err := svc.PushOrderAssigned(context.Background(), uuid.New(), uuid.New())
	if err == nil {
		t.Fatal("expected publish failure to propagate")
	}
}

func TestPushRejectsMissingAgent(t *testing.T) {
	svc := newPushServiceWith(&fakePublisher{}, testLogger())
	if err := svc.PushOrderCancelled(context.Background(), uuid.Nil, uuid.New(), ""); err == nil {
		t.Fatal("expected error for missing agent id")
	}
}
