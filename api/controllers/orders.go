package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftfleet/dispatch-backend/api/responses"
	"github.com/swiftfleet/dispatch-backend/api/validators"
	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// assignKickTimeout bounds the async pipeline run kicked off by order create.
const assignKickTimeout = 30 * time.Second

type coordinatePayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c coordinatePayload) toCoordinate() types.Coordinate {
	return types.Coordinate{Lat: c.Lat, Lng: c.Lng}
}

type createOrderRequest struct {
	Priority     string            `json:"priority"`
	Pickup       coordinatePayload `json:"pickup" validate:"required"`
	Dropoff      coordinatePayload `json:"dropoff" validate:"required"`
	PayoutAmount decimal.Decimal   `json:"payout_amount"`
}

// CreateOrder opens an order and kicks the assignment pipeline without
// blocking the response on candidate search.
func CreateOrder(svc orders.Service, assigner assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Create(r.Context(), orders.CreateInput{
			Priority:        enums.OrderPriority(req.Priority),
			PickupLocation:  req.Pickup.toCoordinate(),
			DropoffLocation: req.Dropoff.toCoordinate(),
			PayoutAmount:    req.PayoutAmount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		go func() {
			kickCtx, cancel := context.WithTimeout(context.Background(), assignKickTimeout)
			defer cancel()
			kickCtx = logg.WithOrderID(kickCtx, order.ID.String())
			if _, kickErr := assigner.AssignOrder(kickCtx, assignment.AssignOrderInput{OrderID: order.ID}); kickErr != nil {
				logg.Warn(logg.WithField(kickCtx, "error", kickErr.Error()), "initial assignment kick failed")
			}
		}()

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// OrderDetail returns the full order row.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderStatus returns the lifecycle read model.
func OrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Status(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AssignOrder re-triggers candidate search for a searching order.
func AssignOrder(assigner assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := assigner.AssignOrder(r.Context(), assignment.AssignOrderInput{OrderID: orderID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type acceptOrderRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
}

// AcceptOrder commits the order to the accepting agent. The first valid
// accept wins; later accepts get a conflict.
func AcceptOrder(assigner assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req acceptOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := assigner.Accept(r.Context(), orderID, req.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels a non-terminal order and frees its agent if assigned.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelOrderRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Cancel(r.Context(), orders.CancelInput{OrderID: orderID, Reason: req.Reason}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

type releaseOrderRequest struct {
	Reason string `json:"reason"`
}

// ReleaseOrder takes an assigned order away from its agent for reassignment.
func ReleaseOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req releaseOrderRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Release(r.Context(), orders.ReleaseInput{OrderID: orderID, Reason: req.Reason}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "released"})
	}
}

type transitionOrderRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
	To      string    `json:"to" validate:"required"`
}

// TransitionOrder moves an assigned order through its downstream states.
func TransitionOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req transitionOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Transition(r.Context(), orders.TransitionInput{
			OrderID: orderID,
			AgentID: req.AgentID,
			To:      enums.OrderStatus(req.To),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": req.To})
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

// decodeOptionalBody tolerates an empty body for endpoints whose payload is
// entirely optional.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}
