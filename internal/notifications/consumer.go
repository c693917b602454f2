package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/idempotency"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/payloads"
)

const agentPushConsumer = "agent-push-notices"

type pushSender interface {
	PushOrderAssigned(ctx context.Context, agentID, orderID uuid.UUID) error
	PushOrderCancelled(ctx context.Context, agentID, orderID uuid.UUID, reason string) error
}

// Consumer watches domain events and turns assignment outcomes into pushes to
// the agents involved.
type Consumer struct {
	push         pushSender
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the agent push consumer.
func NewConsumer(push pushSender, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if push == nil {
		return nil, fmt.Errorf("push service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		push:         push,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != enums.EventOrderAssigned && eventType != enums.EventOrderCancelled {
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, agentPushConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Debug(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handle(ctx, eventType, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "push handling failed", err)
		_ = c.idempotency.Delete(ctx, agentPushConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage, logCtx context.Context) error {
	switch eventType {
	case enums.EventOrderAssigned:
		var payload payloads.OrderAssignedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parsing order_assigned payload: %w", err)
		}
		if err := c.push.PushOrderAssigned(ctx, payload.AgentID, payload.OrderID); err != nil {
			return err
		}
		c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "winner notified")
		return nil

	case enums.EventOrderCancelled:
		var payload payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parsing order_cancelled payload: %w", err)
		}
		// Cancellations of unassigned orders have nobody to notify.
		if payload.AgentID == nil {
			return nil
		}
		if err := c.push.PushOrderCancelled(ctx, *payload.AgentID, payload.OrderID, payload.Reason); err != nil {
			return err
		}
		c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "agent notified of cancellation")
		return nil
	}
	return nil
}
