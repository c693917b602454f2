package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/config"
	dbpkg "github.com/swiftfleet/dispatch-backend/pkg/db"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox/payloads"
)

type serializableTxRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CommitParams carries one accept attempt. ScoreAtOffer and DistanceM come
// from the stored offer payload so the assignment row reflects what the agent
// actually saw.
type CommitParams struct {
	OrderID      uuid.UUID
	AgentID      uuid.UUID
	ScoreAtOffer float64
	DistanceM    float64
}

// Committer performs the first-accept-wins state change. All writes happen in
// one serializable transaction; every concurrent accept after the first fails
// at the order state guard.
type Committer struct {
	tx        serializableTxRunner
	orderRepo orders.Repository
	agentRepo agents.Repository
	repo      Repository
	outbox    outboxPublisher
	cfg       config.AssignmentConfig
	logg      *logger.Logger
}

// CommitterParams carries the dependencies for NewCommitter.
type CommitterParams struct {
	Tx        serializableTxRunner
	OrderRepo orders.Repository
	AgentRepo agents.Repository
	Repo      Repository
	Outbox    outboxPublisher
	Config    config.AssignmentConfig
	Logger    *logger.Logger
}

// NewCommitter builds a committer with the required dependencies.
func NewCommitter(params CommitterParams) (*Committer, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.AgentRepo == nil {
		return nil, fmt.Errorf("agents repository required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Committer{
		tx:        params.Tx,
		orderRepo: params.OrderRepo,
		agentRepo: params.AgentRepo,
		repo:      params.Repo,
		outbox:    params.Outbox,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// Commit assigns the order to the agent if both still qualify. Serialization
// failures retry with constant backoff; domain guard failures do not.
func (c *Committer) Commit(ctx context.Context, params CommitParams) (*models.Order, error) {
	if params.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if params.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}

	var committed *models.Order
	backoff := retry.WithMaxRetries(uint64(c.cfg.CommitMaxRetries), retry.NewConstant(c.cfg.CommitRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		order, txErr := c.commitOnce(ctx, params)
		if txErr != nil {
			if dbpkg.IsSerializationFailure(txErr) {
				return retry.RetryableError(txErr)
			}
			return txErr
		}
		committed = order
		return nil
	})
	if err != nil {
		if dbpkg.IsSerializationFailure(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "assignment contention, retry")
		}
		return nil, err
	}

	logCtx := c.logg.WithOrderID(ctx, params.OrderID.String())
	logCtx = c.logg.WithAgentID(logCtx, params.AgentID.String())
	c.logg.Info(logCtx, "order assigned")
	return committed, nil
}

func (c *Committer) commitOnce(ctx context.Context, params CommitParams) (*models.Order, error) {
	var result *models.Order
	err := c.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		orderRepo := c.orderRepo.WithTx(tx)
		order, err := orderRepo.FindByID(ctx, params.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching order")
		}
		if order.Status != enums.OrderStatusSearchingAgent || order.AgentID != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer available")
		}

		agent, err := c.agentRepo.WithTx(tx).FindByID(ctx, params.AgentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching agent")
		}
		if !agent.IsApproved || agent.IsBlocked {
			return pkgerrors.New(pkgerrors.CodeConflict, "agent is not eligible")
		}
		if agent.Status != enums.AgentStatusOnline {
			return pkgerrors.New(pkgerrors.CodeConflict, "agent is not available")
		}

		now := time.Now().UTC()
		rows, err := orderRepo.UpdateStatusGuarded(ctx, order.ID, enums.OrderStatusSearchingAgent, enums.OrderStatusAssigned, map[string]any{
			"agent_id":    params.AgentID,
			"assigned_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assigning order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer available")
		}

		if err := c.agentRepo.WithTx(tx).Update(ctx, agent.ID, map[string]any{
			"status":           enums.AgentStatusOnTrip,
			"current_order_id": order.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking agent on trip")
		}

		if _, err := c.repo.WithTx(tx).Create(ctx, &models.OrderAssignment{
			OrderID:      order.ID,
			AgentID:      agent.ID,
			AssignedAt:   now,
			Active:       true,
			ScoreAtOffer: params.ScoreAtOffer,
			DistanceM:    params.DistanceM,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording assignment")
		}

		if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderAssigned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{AgentID: &agent.ID},
			Data: payloads.OrderAssignedEvent{
				OrderID:    order.ID,
				AgentID:    agent.ID,
				Score:      params.ScoreAtOffer,
				DistanceM:  params.DistanceM,
				AssignedAt: now,
			},
		}); err != nil {
			return err
		}

		assigned := *order
		assigned.Status = enums.OrderStatusAssigned
		assigned.AgentID = &agent.ID
		assigned.AssignedAt = &now
		result = &assigned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
