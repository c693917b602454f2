package controllers

import (
	"net/http"

	"github.com/swiftfleet/dispatch-backend/api/responses"
	"github.com/swiftfleet/dispatch-backend/api/validators"
	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type registerAgentRequest struct {
	Name  string  `json:"name" validate:"required"`
	Phone *string `json:"phone"`
}

// RegisterAgent onboards a new delivery agent in the offline state.
func RegisterAgent(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerAgentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agent, err := svc.Register(r.Context(), agents.RegisterInput{Name: req.Name, Phone: req.Phone})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, agent)
	}
}

// AgentDetail returns the agent row.
func AgentDetail(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := parseUUIDParam(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agent, err := svc.Get(r.Context(), agentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agent)
	}
}

type heartbeatRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AgentHeartbeat records a position report and refreshes the agent's
// geo index entry.
func AgentHeartbeat(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := parseUUIDParam(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req heartbeatRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Heartbeat(r.Context(), agents.HeartbeatInput{
			AgentID:  agentID,
			Location: types.Coordinate{Lat: req.Lat, Lng: req.Lng},
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "recorded"})
	}
}

type agentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AgentStatus switches the agent between online and offline availability.
func AgentStatus(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := parseUUIDParam(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req agentStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetStatus(r.Context(), agents.SetStatusInput{
			AgentID: agentID,
			Status:  enums.AgentStatus(req.Status),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": req.Status})
	}
}

type blockAgentRequest struct {
	Reason string `json:"reason"`
}

// BlockAgent removes an agent from the dispatch pool permanently.
func BlockAgent(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := parseUUIDParam(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req blockAgentRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Block(r.Context(), agentID, req.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "blocked"})
	}
}

// AgentAssignments lists the agent's assignment history, most recent first.
func AgentAssignments(assigner assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := parseUUIDParam(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := assigner.History(r.Context(), agentID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}
