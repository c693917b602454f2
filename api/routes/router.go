package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftfleet/dispatch-backend/api/controllers"
	"github.com/swiftfleet/dispatch-backend/api/middleware"
	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/config"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	pubsubP controllers.Pinger,
	ordersSvc orders.Service,
	agentsSvc agents.Service,
	assignSvc assignment.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"postgres": dbP,
			"redis":    redisP,
			"pubsub":   pubsubP,
		}))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersSvc, assignSvc, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderDetail(ordersSvc, logg))
				r.Get("/status", controllers.OrderStatus(ordersSvc, logg))
				r.Post("/assign", controllers.AssignOrder(assignSvc, logg))
				r.Post("/accept", controllers.AcceptOrder(assignSvc, logg))
				r.Post("/cancel", controllers.CancelOrder(ordersSvc, logg))
				r.Post("/release", controllers.ReleaseOrder(ordersSvc, logg))
				r.Post("/status", controllers.TransitionOrder(ordersSvc, logg))
			})
		})

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", controllers.RegisterAgent(agentsSvc, logg))
			r.Route("/{agentId}", func(r chi.Router) {
				r.Get("/", controllers.AgentDetail(agentsSvc, logg))
				r.Get("/assignments", controllers.AgentAssignments(assignSvc, logg))
				r.Post("/heartbeat", controllers.AgentHeartbeat(agentsSvc, logg))
				r.Post("/status", controllers.AgentStatus(agentsSvc, logg))
				r.Post("/block", controllers.BlockAgent(agentsSvc, logg))
			})
		})
	})

	return r
}
