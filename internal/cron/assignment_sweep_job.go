package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
)

const (
	defaultStaleAfter = 45 * time.Second
	defaultSweepBatch = 50
)

type staleOrderReader interface {
	FindStaleSearching(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderAssigner interface {
	AssignOrder(ctx context.Context, input assignment.AssignOrderInput) (*assignment.AssignOrderResult, error)
}

// AssignmentSweepJobParams configure the stale order sweeper.
type AssignmentSweepJobParams struct {
	Logger     *logger.Logger
	Orders     staleOrderReader
	Assigner   orderAssigner
	StaleAfter time.Duration
	BatchSize  int
}

// NewAssignmentSweepJob builds the job that re-drives searching orders whose
// offer round expired without an acceptance.
func NewAssignmentSweepJob(params AssignmentSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Assigner == nil {
		return nil, fmt.Errorf("assignment service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &assignmentSweepJob{
		logg:       params.Logger,
		orders:     params.Orders,
		assigner:   params.Assigner,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type assignmentSweepJob struct {
	logg       *logger.Logger
	orders     staleOrderReader
	assigner   orderAssigner
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *assignmentSweepJob) Name() string { return "assignment-sweep" }

func (j *assignmentSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	stale, err := j.orders.FindStaleSearching(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale searching orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	redriven := 0
	unassignable := 0
	for _, order := range stale {
		result, err := j.assigner.AssignOrder(ctx, assignment.AssignOrderInput{OrderID: order.ID})
		if err != nil {
			// A single bad order must not stall the rest of the batch.
			errs = multierr.Append(errs, fmt.Errorf("redrive order %s: %w", order.ID, err))
			continue
		}
		if result.Unassignable {
			unassignable++
			continue
		}
		redriven++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":        len(stale),
		"redriven":     redriven,
		"unassignable": unassignable,
	})
	j.logg.Info(logCtx, "stale order sweep complete")
	return errs
}
