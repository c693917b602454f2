package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/config"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/metrics"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/payloads"
	"github.com/swiftfleet/dispatch-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service runs the assignment pipeline for an order and resolves accepts.
type Service interface {
	AssignOrder(ctx context.Context, input AssignOrderInput) (*AssignOrderResult, error)
	Accept(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error)
	History(ctx context.Context, agentID uuid.UUID, limit int) ([]models.OrderAssignment, error)
}

type service struct {
	orderRepo  orders.Repository
	repo       Repository
	selector   *Selector
	dispatcher *Dispatcher
	committer  *Committer
	offers     offerStore
	tx         txRunner
	outbox     outboxPublisher
	metrics    *metrics.AssignmentMetrics
	policy     EscalationPolicy
	cfg        config.AssignmentConfig
	logg       *logger.Logger
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	OrderRepo  orders.Repository
	Repo       Repository
	Selector   *Selector
	Dispatcher *Dispatcher
	Committer  *Committer
	Offers     offerStore
	Tx         txRunner
	Outbox     outboxPublisher
	Metrics    *metrics.AssignmentMetrics
	Config     config.AssignmentConfig
	Logger     *logger.Logger
}

// NewService builds the pipeline service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if params.Selector == nil {
		return nil, fmt.Errorf("selector required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.Committer == nil {
		return nil, fmt.Errorf("committer required")
	}
	if params.Offers == nil {
		return nil, fmt.Errorf("offer store required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		orderRepo:  params.OrderRepo,
		repo:       params.Repo,
		selector:   params.Selector,
		dispatcher: params.Dispatcher,
		committer:  params.Committer,
		offers:     params.Offers,
		tx:         params.Tx,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		policy:     NewEscalationPolicy(params.Config),
		cfg:        params.Config,
		logg:       params.Logger,
	}, nil
}

// AssignOrder runs candidate search for the order, escalating the radius until
// a round yields offers or the attempt budget runs out. Running out of agents
// is a valid outcome; the order stays in searching_agent either way.
func (s *service) AssignOrder(ctx context.Context, input AssignOrderInput) (*AssignOrderResult, error) {
	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusSearchingAgent || order.AgentID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not searching for an agent")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	var radius float64

	for attempt := 0; attempt < s.policy.MaxAttempts(); attempt++ {
		radius = s.policy.RadiusForAttempt(attempt)
		if attempt > 0 {
			s.metrics.IncEscalation()
		}

		candidates, selErr := s.selector.Select(ctx, SelectParams{
			Pickup:        order.PickupLocation,
			Payout:        order.PayoutAmount,
			Priority:      order.Priority,
			RadiusM:       radius,
			MaxCandidates: s.cfg.MaxCandidates,
			Limit:         s.cfg.MaxOffers,
		})
		if selErr != nil {
			// Geo or datastore outage; the order is untouched and will be retried.
			return nil, selErr
		}
		s.metrics.ObserveCandidates(len(candidates))

		if len(candidates) == 0 {
			if recErr := s.recordAttempt(ctx, order, attempt, radius, nil); recErr != nil {
				return nil, recErr
			}
			continue
		}

		offered, dispatchErr := s.dispatcher.Dispatch(ctx, order, candidates, s.cfg.MaxOffers, s.cfg.OfferTTL)
		if dispatchErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", dispatchErr.Error()), "offer dispatch partially failed")
		}
		if recErr := s.recordAttempt(ctx, order, attempt, radius, offered); recErr != nil {
			return nil, recErr
		}
		if len(offered) == 0 {
			continue
		}

		s.metrics.IncOffersDispatched(order.Priority.String(), len(offered))
		s.logg.Info(s.logg.WithField(ctx, "agents_offered", len(offered)), "offers dispatched")
		return &AssignOrderResult{
			OrderID:       order.ID,
			Attempt:       attempt + 1,
			SearchRadiusM: radius,
			AgentsOffered: offered,
		}, nil
	}

	s.metrics.IncUnassignable()
	if err := s.recordUnassignable(ctx, order, radius); err != nil {
		return nil, err
	}
	s.logg.Warn(ctx, "no agents available")
	return &AssignOrderResult{
		OrderID:       order.ID,
		Attempt:       s.policy.MaxAttempts(),
		SearchRadiusM: radius,
		Unassignable:  true,
	}, nil
}

// Accept resolves an agent tapping an offer. The first accept wins; everyone
// else gets a conflict.
func (s *service) Accept(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}

	raw, err := s.offers.GetOffer(ctx, orderID.String(), agentID.String())
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			s.metrics.IncCommit("conflict")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "offer expired or not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking offer")
	}
	offer, decodeErr := decodeOfferPayload(raw)
	if decodeErr != nil {
		// The offer record still proves eligibility; score defaults to zero.
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "malformed offer payload")
	}

	order, err := s.committer.Commit(ctx, CommitParams{
		OrderID:      orderID,
		AgentID:      agentID,
		ScoreAtOffer: offer.Score,
		DistanceM:    offer.DistanceM,
	})
	if err != nil {
		switch {
		case pkgerrors.HasCode(err, pkgerrors.CodeStateConflict):
			s.metrics.IncCommit("lost")
		case pkgerrors.HasCode(err, pkgerrors.CodeConflict):
			s.metrics.IncCommit("conflict")
		}
		return nil, err
	}
	s.metrics.IncCommit("won")

	// Losing offers are left to their TTL; only the winner's is voided.
	if clearErr := s.offers.ClearOffers(ctx, orderID.String(), agentID.String()); clearErr != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "clearing accepted offer failed")
	}

	return order, nil
}

// History lists past assignments for an agent, newest first.
func (s *service) History(ctx context.Context, agentID uuid.UUID, limit int) ([]models.OrderAssignment, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}
	rows, err := s.repo.ListByAgent(ctx, agentID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing assignments")
	}
	return rows, nil
}

// recordAttempt bumps the order's search counter and emits the round's events
// in one transaction.
func (s *service) recordAttempt(ctx context.Context, order *models.Order, attempt int, radius float64, offered []uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orderRepo.WithTx(tx).Update(ctx, order.ID, map[string]any{
			"search_attempts": gorm.Expr("search_attempts + 1"),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording search attempt")
		}
		if attempt > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAssignmentRetried,
				AggregateType: enums.AggregateAssignment,
				AggregateID:   order.ID,
				Data: payloads.AssignmentRetriedEvent{
					OrderID:       order.ID,
					Attempt:       attempt + 1,
					SearchRadiusM: radius,
				},
			}); err != nil {
				return err
			}
		}
		if len(offered) == 0 {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferSetDispatched,
			AggregateType: enums.AggregateAssignment,
			AggregateID:   order.ID,
			Data: payloads.OfferSetDispatchedEvent{
				OrderID:      order.ID,
				AgentIDs:     offered,
				OfferTTLSecs: int(s.cfg.OfferTTL.Seconds()),
			},
		})
	})
}

func (s *service) recordUnassignable(ctx context.Context, order *models.Order, finalRadius float64) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderUnassignable,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderUnassignableEvent{
				OrderID:        order.ID,
				SearchAttempts: order.SearchAttempts + s.policy.MaxAttempts(),
				FinalRadiusM:   finalRadius,
			},
		})
	})
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching order")
	}
	return order, nil
}
