package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
)

const defaultPushTimeout = 10 * time.Second

// Push notice kinds carried in the message attributes.
const (
	KindOffer     = "offer"
	KindAssigned  = "assigned"
	KindCancelled = "cancelled"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PushService fans agent-facing notices out through the push topic. The device
// gateway downstream routes on the agent_id attribute.
type PushService struct {
	pub  publisher
	logg *logger.Logger
}

// NewPushService wraps the agent push topic publisher.
func NewPushService(pub *gcppubsub.Publisher, logg *logger.Logger) (*PushService, error) {
	if pub == nil {
		return nil, fmt.Errorf("push publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PushService{pub: newGCPPublisher(pub), logg: logg}, nil
}

func newPushServiceWith(pub publisher, logg *logger.Logger) *PushService {
	return &PushService{pub: pub, logg: logg}
}

// PushOfferToAgent delivers a new offer notice.
func (s *PushService) PushOfferToAgent(ctx context.Context, agentID uuid.UUID, notice assignment.OfferNotice) error {
	return s.push(ctx, agentID, KindOffer, notice)
}

// PushOrderAssigned confirms to the winning agent that the order is theirs.
func (s *PushService) PushOrderAssigned(ctx context.Context, agentID, orderID uuid.UUID) error {
	return s.push(ctx, agentID, KindAssigned, map[string]string{"order_id": orderID.String()})
}

// PushOrderCancelled tells the assigned agent the order was cancelled.
func (s *PushService) PushOrderCancelled(ctx context.Context, agentID, orderID uuid.UUID, reason string) error {
	payload := map[string]string{"order_id": orderID.String()}
	if reason != "" {
		payload["reason"] = reason
	}
	return s.push(ctx, agentID, KindCancelled, payload)
}

func (s *PushService) push(ctx context.Context, agentID uuid.UUID, kind string, payload any) error {
	if agentID == uuid.Nil {
		return fmt.Errorf("agent id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s notice: %w", kind, err)
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"agent_id": agentID.String(),
			"kind":     kind,
		},
	}

	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	result := s.pub.Publish(pushCtx, msg)
	if result == nil {
		return errors.New("push publisher returned nil result")
	}
	if _, err := result.Get(pushCtx); err != nil {
		return fmt.Errorf("publishing %s notice: %w", kind, err)
	}

	logCtx := s.logg.WithAgentID(ctx, agentID.String())
	s.logg.Debug(s.logg.WithField(logCtx, "kind", kind), "push notice sent")
	return nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
