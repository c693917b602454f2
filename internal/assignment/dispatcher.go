package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// OfferNotice is what an agent's device receives when an offer is placed.
type OfferNotice struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Priority  enums.OrderPriority `json:"priority"`
	Payout    decimal.Decimal     `json:"payout"`
	Pickup    types.Coordinate    `json:"pickup"`
	DistanceM float64             `json:"distance_m"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// offerNotifier pushes offer notices through the notification transport.
type offerNotifier interface {
	PushOfferToAgent(ctx context.Context, agentID uuid.UUID, notice OfferNotice) error
}

// Dispatcher writes offer records and notifies the chosen agents. It touches
// no durable state; failed pushes are collected and logged, never fatal.
type Dispatcher struct {
	offers   offerStore
	notifier offerNotifier
	logg     *logger.Logger
}

// NewDispatcher wires the dispatcher dependencies.
func NewDispatcher(offers offerStore, notifier offerNotifier, logg *logger.Logger) (*Dispatcher, error) {
	if offers == nil {
		return nil, fmt.Errorf("offer store required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("offer notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{offers: offers, notifier: notifier, logg: logg}, nil
}

// Dispatch places offers for up to limit candidates and pushes a notice to
// each. It returns the agents whose offers were written this round; the
// accumulated error carries every per-agent failure.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, candidates []ScoredCandidate, limit int, ttl time.Duration) ([]uuid.UUID, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	offered := make([]uuid.UUID, 0, len(candidates))
	var errs error

	for _, candidate := range candidates {
		payload, err := encodeOfferPayload(offerPayload{
			Score:     candidate.Score,
			DistanceM: candidate.DistanceM,
			PlacedAt:  now,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("agent %s: encoding offer: %w", candidate.AgentID, err))
			continue
		}

		placed, err := d.offers.PlaceOffer(ctx, order.ID.String(), candidate.AgentID.String(), payload, ttl)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("agent %s: placing offer: %w", candidate.AgentID, err))
			continue
		}
		if !placed {
			// A live offer from an earlier round; the agent was already notified.
			d.logg.Debug(d.logg.WithAgentID(ctx, candidate.AgentID.String()), "offer already outstanding")
			continue
		}

		offered = append(offered, candidate.AgentID)

		notice := OfferNotice{
			OrderID:   order.ID,
			Priority:  order.Priority,
			Payout:    order.PayoutAmount,
			Pickup:    order.PickupLocation,
			DistanceM: candidate.DistanceM,
			ExpiresAt: expiresAt,
		}
		if err := d.notifier.PushOfferToAgent(ctx, candidate.AgentID, notice); err != nil {
			// The offer stands; the agent can still accept through other surfaces.
			errs = multierr.Append(errs, fmt.Errorf("agent %s: pushing offer: %w", candidate.AgentID, err))
		}
	}

	return offered, errs
}
