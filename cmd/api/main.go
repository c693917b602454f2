package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/swiftfleet/dispatch-backend/api/routes"
	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/internal/notifications"
	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/config"
	"github.com/swiftfleet/dispatch-backend/pkg/db"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/metrics"
	"github.com/swiftfleet/dispatch-backend/pkg/migrate"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/pubsub"
	"github.com/swiftfleet/dispatch-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	geoIndex, err := geoindex.NewIndex(redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build geo index", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	orderRepo := orders.NewRepository(dbClient.DB())
	agentRepo := agents.NewRepository(dbClient.DB())
	assignRepo := assignment.NewRepository(dbClient.DB())

	agentsService, err := agents.NewService(agentRepo, geoIndex, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create agents service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:        orderRepo,
		AgentRepo:   agentRepo,
		Assignments: assignRepo,
		Tx:          dbClient,
		Outbox:      outboxService,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	pushService, err := notifications.NewPushService(pubsubClient.AgentPushPublisher(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create push service", err)
		os.Exit(1)
	}

	dispatcher, err := assignment.NewDispatcher(redisClient, pushService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create offer dispatcher", err)
		os.Exit(1)
	}

	selector, err := assignment.NewSelector(geoIndex, agentRepo, assignment.NewScorer(cfg.Assignment))
	if err != nil {
		logg.Error(context.Background(), "failed to create candidate selector", err)
		os.Exit(1)
	}

	committer, err := assignment.NewCommitter(assignment.CommitterParams{
		Tx:        dbClient,
		OrderRepo: orderRepo,
		AgentRepo: agentRepo,
		Repo:      assignRepo,
		Outbox:    outboxService,
		Config:    cfg.Assignment,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create accept committer", err)
		os.Exit(1)
	}

	assignService, err := assignment.NewService(assignment.ServiceParams{
		OrderRepo:  orderRepo,
		Repo:       assignRepo,
		Selector:   selector,
		Dispatcher: dispatcher,
		Committer:  committer,
		Offers:     redisClient,
		Tx:         dbClient,
		Outbox:     outboxService,
		Metrics:    metrics.NewAssignmentMetrics(prometheus.DefaultRegisterer),
		Config:     cfg.Assignment,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, pubsubClient, ordersService, agentsService, assignService),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shut down gracefully")
}
