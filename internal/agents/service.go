package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
)

// Service defines agent lifecycle operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.Agent, error)
	Heartbeat(ctx context.Context, input HeartbeatInput) error
	SetStatus(ctx context.Context, input SetStatusInput) error
	Block(ctx context.Context, agentID uuid.UUID, reason string) error
	Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	ListEligible(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error)
}

type service struct {
	repo Repository
	geo  geoindex.Index
	logg *logger.Logger
}

// NewService builds an agent service with the required dependencies.
func NewService(repo Repository, geo geoindex.Index, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("agents repository required")
	}
	if geo == nil {
		return nil, fmt.Errorf("geo index required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, geo: geo, logg: logg}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.Agent, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent name is required")
	}
	agent := &models.Agent{
		Name:   name,
		Phone:  input.Phone,
		Status: enums.AgentStatusOffline,
	}
	created, err := s.repo.Create(ctx, agent)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating agent")
	}
	s.logg.Info(s.logg.WithAgentID(ctx, created.ID.String()), "agent registered")
	return created, nil
}

// Heartbeat records a position report. An offline agent that heartbeats is
// brought back online; heartbeats never change an on_trip status.
func (s *service) Heartbeat(ctx context.Context, input HeartbeatInput) error {
	agent, err := s.findAgent(ctx, input.AgentID)
	if err != nil {
		return err
	}
	if agent.IsBlocked || !agent.IsApproved {
		return pkgerrors.New(pkgerrors.CodeConflict, "agent is not active")
	}
	if err := input.Location.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location")
	}

	now := time.Now().UTC()
	updates := map[string]any{"last_seen_at": now}
	if agent.Status == enums.AgentStatusOffline {
		updates["status"] = enums.AgentStatusOnline
	}
	if err := s.repo.Update(ctx, agent.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording heartbeat")
	}
	if err := s.geo.Upsert(ctx, agent.ID, input.Location); err != nil {
		return err
	}
	return nil
}

func (s *service) SetStatus(ctx context.Context, input SetStatusInput) error {
	if !input.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown agent status")
	}
	if input.Status == enums.AgentStatusOnTrip {
		return pkgerrors.New(pkgerrors.CodeValidation, "on_trip is managed by the assignment pipeline")
	}

	agent, err := s.findAgent(ctx, input.AgentID)
	if err != nil {
		return err
	}
	if agent.Status == input.Status {
		return nil
	}
	if agent.Status == enums.AgentStatusOnTrip {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "agent has an active delivery")
	}
	if input.Status == enums.AgentStatusOnline && (agent.IsBlocked || !agent.IsApproved) {
		return pkgerrors.New(pkgerrors.CodeConflict, "agent is not active")
	}

	if err := s.repo.UpdateStatus(ctx, agent.ID, input.Status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating agent status")
	}
	if input.Status == enums.AgentStatusOffline {
		if err := s.geo.Remove(ctx, agent.ID); err != nil {
			return err
		}
	}
	logCtx := s.logg.WithAgentID(ctx, agent.ID.String())
	logCtx = s.logg.WithField(logCtx, "status", input.Status)
	s.logg.Info(logCtx, "agent status changed")
	return nil
}

// Block bars the agent from receiving offers and drops them from the geo
// index. An in-flight delivery keeps its on_trip status until it resolves.
func (s *service) Block(ctx context.Context, agentID uuid.UUID, reason string) error {
	agent, err := s.findAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.IsBlocked {
		return nil
	}

	updates := map[string]any{"is_blocked": true}
	if agent.Status != enums.AgentStatusOnTrip {
		updates["status"] = enums.AgentStatusOffline
	}
	if err := s.repo.Update(ctx, agent.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "blocking agent")
	}
	if err := s.geo.Remove(ctx, agent.ID); err != nil {
		return err
	}
	logCtx := s.logg.WithAgentID(ctx, agent.ID.String())
	if reason != "" {
		logCtx = s.logg.WithField(logCtx, "reason", reason)
	}
	s.logg.Info(logCtx, "agent blocked")
	return nil
}

func (s *service) Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	return s.findAgent(ctx, agentID)
}

func (s *service) ListEligible(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error) {
	rows, err := s.repo.FindEligibleByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching eligible agents")
	}
	return rows, nil
}

func (s *service) findAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}
	agent, err := s.repo.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching agent")
	}
	return agent, nil
}
