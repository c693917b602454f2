package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// assignmentReleaser closes the active assignment row when an order leaves an agent.
type assignmentReleaser interface {
	ReleaseActiveTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

// Service defines order lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Status(ctx context.Context, orderID uuid.UUID) (*StatusView, error)
	Cancel(ctx context.Context, input CancelInput) error
	Release(ctx context.Context, input ReleaseInput) error
	Transition(ctx context.Context, input TransitionInput) error
}

type service struct {
	repo        Repository
	agentRepo   agents.Repository
	assignments assignmentReleaser
	tx          txRunner
	outbox      outboxPublisher
	logg        *logger.Logger
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo        Repository
	AgentRepo   agents.Repository
	Assignments assignmentReleaser
	Tx          txRunner
	Outbox      outboxPublisher
	Logger      *logger.Logger
}

// NewService builds an order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.AgentRepo == nil {
		return nil, fmt.Errorf("agents repository required")
	}
	if params.Assignments == nil {
		return nil, fmt.Errorf("assignment releaser required")
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
		repo:        params.Repo,
		agentRepo:   params.AgentRepo,
		assignments: params.Assignments,
		tx:          params.Tx,
		outbox:      params.Outbox,
		logg:        params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	priority := input.Priority
	if priority == "" {
		priority = enums.OrderPriorityNormal
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order priority")
	}
	if err := input.PickupLocation.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pickup location")
	}
	if err := input.DropoffLocation.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dropoff location")
	}
	if input.PayoutAmount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive")
	}

	order := &models.Order{
		Status:          enums.OrderStatusSearchingAgent,
		Priority:        priority,
		PickupLocation:  input.PickupLocation,
		DropoffLocation: input.DropoffLocation,
		PayoutAmount:    input.PayoutAmount,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, createErr := s.repo.WithTx(tx).Create(ctx, order)
		if createErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, createErr, "creating order")
		}
		order = created
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCreatedEvent{
				OrderID:   order.ID,
				Priority:  order.Priority,
				PickupLat: order.PickupLocation.Lat,
				PickupLng: order.PickupLocation.Lng,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.findOrder(ctx, orderID)
}

func (s *service) Status(ctx context.Context, orderID uuid.UUID) (*StatusView, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		OrderID:        order.ID,
		Status:         order.Status,
		Priority:       order.Priority,
		AgentID:        order.AgentID,
		AssignedAt:     order.AssignedAt,
		SearchAttempts: order.SearchAttempts,
		DeliveredAt:    order.DeliveredAt,
		CreatedAt:      order.CreatedAt,
	}, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already resolved")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{}
		if input.Reason != "" {
			updates["cancel_reason"] = input.Reason
		}
		rows, updErr := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, enums.OrderStatusCancelled, updates)
		if updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, updErr, "cancelling order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}

		if order.AgentID != nil {
			if relErr := s.releaseAgentTx(ctx, tx, *order.AgentID, order.ID, "order_cancelled", false); relErr != nil {
				return relErr
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				AgentID:     order.AgentID,
				CancelledAt: time.Now().UTC(),
				Reason:      input.Reason,
			},
		})
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order cancelled")
	return nil
}

// Release takes an assigned order away from its agent and puts it back in the
// search pool. The sweeper picks it up on the next cycle.
func (s *service) Release(ctx context.Context, input ReleaseInput) error {
	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusAssigned || order.AgentID == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no releasable agent")
	}
	reason := input.Reason
	if reason == "" {
		reason = "released"
	}
	agentID := *order.AgentID

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{
			"agent_id":    nil,
			"assigned_at": nil,
		}
		rows, updErr := repo.UpdateStatusGuarded(ctx, order.ID, enums.OrderStatusAssigned, enums.OrderStatusSearchingAgent, updates)
		if updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, updErr, "releasing order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}
		return s.releaseAgentTx(ctx, tx, agentID, order.ID, reason, false)
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithField(logCtx, "reason", reason)
	s.logg.Info(logCtx, "order released for reassignment")
	return nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) error {
	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if !input.To.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	// Assigned and cancelled are owned by the assignment pipeline and Cancel.
	if input.To == enums.OrderStatusAssigned || input.To == enums.OrderStatusCancelled || input.To == enums.OrderStatusSearchingAgent {
		return pkgerrors.New(pkgerrors.CodeValidation, "status not reachable via transition")
	}
	if !order.Status.CanTransitionTo(input.To) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, input.To))
	}
	if order.AgentID == nil || *order.AgentID != input.AgentID {
		return pkgerrors.New(pkgerrors.CodeConflict, "order is not held by this agent")
	}

	delivered := input.To == enums.OrderStatusDelivered
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{}
		if delivered {
			updates["delivered_at"] = time.Now().UTC()
		}
		rows, updErr := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, input.To, updates)
		if updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, updErr, "updating order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}

		if delivered {
			if relErr := s.releaseAgentTx(ctx, tx, input.AgentID, order.ID, "delivered", true); relErr != nil {
				return relErr
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderDelivered,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderDeliveredEvent{
					OrderID:     order.ID,
					AgentID:     input.AgentID,
					DeliveredAt: time.Now().UTC(),
				},
			})
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStateChangedEvent{
				OrderID:    order.ID,
				AgentID:    order.AgentID,
				FromStatus: order.Status,
				ToStatus:   input.To,
			},
		})
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithField(logCtx, "to_status", input.To)
	s.logg.Info(logCtx, "order transitioned")
	return nil
}

// releaseAgentTx puts the agent back in the available pool inside the caller's
// transaction and emits the agent_released event.
func (s *service) releaseAgentTx(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID, reason string, countDelivery bool) error {
	agentRepo := s.agentRepo.WithTx(tx)
	if countDelivery {
		if err := agentRepo.CompleteOrder(ctx, agentID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "crediting delivery")
		}
	} else {
		updates := map[string]any{
			"status":           enums.AgentStatusOnline,
			"current_order_id": nil,
		}
		if err := agentRepo.Update(ctx, agentID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing agent")
		}
	}
	if err := s.assignments.ReleaseActiveTx(ctx, tx, orderID, reason); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing assignment")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAgentReleased,
		AggregateType: enums.AggregateAgent,
		AggregateID:   agentID,
		Data: payloads.AgentReleasedEvent{
			AgentID: agentID,
			OrderID: orderID,
			Reason:  reason,
		},
	})
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching order")
	}
	return order, nil
}
