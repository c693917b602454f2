package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/assignment"
	"github.com/swiftfleet/dispatch-backend/internal/cron"
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

const lockKeyFormat = "dispatch:sweeper:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
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

	assignService, orderRepo, err := buildAssignmentPipeline(cfg, logg, dbClient, redisClient, pubsubClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build assignment pipeline", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewAssignmentSweepJob(cron.AssignmentSweepJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Assigner:   assignService,
		StaleAfter: cfg.Sweeper.StaleAfter,
		BatchSize:  cfg.Sweeper.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment sweep job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweeper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	go serveMetrics(ctx, cfg.Sweeper.MetricsAddr, logg)

	logg.Info(ctx, "starting sweeper")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper shutting down gracefully")
}

func buildAssignmentPipeline(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
) (assignment.Service, orders.Repository, error) {
	geoIndex, err := geoindex.NewIndex(redisClient, logg)
	if err != nil {
		return nil, nil, err
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	orderRepo := orders.NewRepository(dbClient.DB())
	agentRepo := agents.NewRepository(dbClient.DB())
	assignRepo := assignment.NewRepository(dbClient.DB())

	pushService, err := notifications.NewPushService(pubsubClient.AgentPushPublisher(), logg)
	if err != nil {
		return nil, nil, err
	}
	dispatcher, err := assignment.NewDispatcher(redisClient, pushService, logg)
	if err != nil {
		return nil, nil, err
	}
	selector, err := assignment.NewSelector(geoIndex, agentRepo, assignment.NewScorer(cfg.Assignment))
	if err != nil {
		return nil, nil, err
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
		return nil, nil, err
	}

	service, err := assignment.NewService(assignment.ServiceParams{
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
		return nil, nil, err
	}
	return service, orderRepo, nil
}

func serveMetrics(ctx context.Context, addr string, logg *logger.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "metrics listener stopped")
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
