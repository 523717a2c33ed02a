package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/reconciler/internal/service/notify"
	"github.com/vladislavdragonenkov/reconciler/internal/service/outbox"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reaper"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/service/worker"
	"github.com/vladislavdragonenkov/reconciler/internal/version"
)

// Run собирает сервис сверки и работает до отмены ctx.
// Компоненты: Kafka consumer → пул воркеров → reconcile.Service, reaper,
// outbox worker с очисткой и ops HTTP-сервер.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.WithField("build", version.String()).Info("starting payment reconciler")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	msg, err := initMessaging(cfg, logger)
	if err != nil {
		return err
	}
	defer closeKafka(msg.producer, logger)

	m := metrics.NewReconcileMetrics()

	dispatcher := notify.NewDispatcher(deps.owners, msg.notifier,
		notify.WithLogger(log.WithField("component", "notification-dispatcher")),
		notify.WithMetrics(m),
		notify.WithBreaker(notify.NewCircuitBreaker(
			cfg.Notify.BreakerMaxFailures,
			cfg.Notify.BreakerResetTimeout,
			log.WithField("component", "notification-breaker"),
		)),
		notify.WithTimeout(cfg.Notify.Timeout),
	)

	service, err := reconcile.NewService(deps.orders, deps.catalog, deps.tx,
		reconcile.WithLogger(log.WithField("component", "reconciler")),
		reconcile.WithMetrics(m),
		reconcile.WithDispatcher(dispatcher),
		reconcile.WithTimeline(deps.timeline),
		reconcile.WithOutbox(deps.outbox),
	)
	if err != nil {
		return fmt.Errorf("create reconcile service: %w", err)
	}

	pool := worker.NewPool(service,
		worker.WithWorkers(cfg.Pool.Workers),
		worker.WithCapacity(cfg.Pool.QueueCapacity),
		worker.WithRetry(worker.RetryConfig{
			MaxAttempts:   cfg.Pool.RetryAttempts,
			InitialDelay:  cfg.Pool.RetryDelay,
			MaxDelay:      cfg.Pool.RetryMaxDelay,
			BackoffFactor: 2,
			Jitter:        cfg.Pool.RetryJitter,
		}),
		worker.WithLogger(log.WithField("component", "task-pool")),
		worker.WithMetrics(m),
	)
	pool.Start()
	defer pool.Shutdown()

	var sweeper *reaper.Reaper
	if cfg.Reaper.Enabled {
		sweeper = reaper.New(deps.orders, deps.tx,
			reaper.WithLogger(log.WithField("component", "reaper")),
			reaper.WithMetrics(m),
			reaper.WithJournal(reconcile.NewJournal(deps.timeline, deps.outbox)),
			reaper.WithInterval(cfg.Reaper.Interval),
			reaper.WithThreshold(cfg.Reaper.Threshold()),
			reaper.WithBatchSize(cfg.Reaper.BatchSize),
		)
	}

	outboxOptions := []outbox.Option{
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryDelay),
	}
	if msg.dlqPublisher != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(msg.dlqPublisher))
	}
	outboxWorker := outbox.NewWorker(deps.outbox, msg.publisher, outboxOptions...)
	retention := outbox.NewRetentionWorker(deps.outbox, cfg.Outbox.Retention,
		outbox.WithRetentionLogger(log.WithField("component", "outbox-retention")),
		outbox.WithRetentionInterval(cfg.Outbox.RetentionInterval),
	)

	var consumer *kafka.Consumer
	if msg.producer != nil {
		consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:         cfg.KafkaBrokers(),
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        cfg.Kafka.ClientID,
			Topics:          cfg.Kafka.Topics(),
			MaxRedeliveries: cfg.Kafka.MaxRedeliveries,
		}, pool, msg.producer)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("kafka is not configured, payment events are not consumed")
	}

	healthHandler := newHealthHandler(deps, msg, pool, cfg)
	var trigger reaperTrigger
	if sweeper != nil {
		trigger = sweeper
	}
	opsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newOpsRouter(healthHandler, trigger, log.WithField("component", "ops-http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gctx, opsServer, logger)
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		retention.Run(gctx)
		return nil
	})
	if sweeper != nil {
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}
	if consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Stop()
		})
	}

	err = g.Wait()
	logger.Info("payment reconciler stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func newHealthHandler(deps *runtimeDependencies, msg *messagingDependencies, pool *worker.Pool, cfg Config) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		handler.RegisterChecker("storage", deps.storageChecker)
	}
	if msg.kafkaChecker != nil {
		handler.RegisterChecker("kafka", msg.kafkaChecker)
	}
	handler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", cfg.Outbox.MaxPending, func(ctx context.Context) (int, error) {
		stats, err := deps.outbox.Stats(ctx)
		return stats.PendingCount, err
	}))
	handler.RegisterChecker("task_queue", healthcheck.NewBacklogChecker("task_queue", cfg.Pool.QueueCapacity-1, func(context.Context) (int, error) {
		return pool.Pending(), nil
	}))
	return handler
}
