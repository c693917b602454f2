package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/payloads"
)

func TestDecoderRegistryVersionedDecode(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventAgentReleased, 1, func(payload json.RawMessage) (interface{}, error) {
		var evt payloads.AgentReleasedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	})

	agentID := uuid.New()
	raw, err := json.Marshal(payloads.AgentReleasedEvent{
		AgentID: agentID,
		OrderID: uuid.New(),
		Reason:  "delivered",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := reg.Decode(enums.EventAgentReleased, 1, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt, ok := decoded.(*payloads.AgentReleasedEvent)
	if !ok {
		t.Fatalf("unexpected type %T", decoded)
	}
	if evt.AgentID != agentID {
		t.Fatalf("agent mismatch %+v", evt)
	}
}

func TestDecoderRegistryUnknownVersion(t *testing.T) {
	reg := NewDecoderRegistry()
	if _, err := reg.Decode(enums.EventAgentReleased, 2, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for unregistered version")
	}
}
