package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
	"github.com/vladislavdragonenkov/reconciler/internal/logging"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/postgres"
)

// runtimeDependencies хранит хранилище, выбранное конфигурацией.
type runtimeDependencies struct {
	orders   domain.OrderRepository
	catalog  domain.CatalogRepository
	owners   domain.OwnerDirectory
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	tx       domain.Transactor

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies создаёт репозитории для выбранного драйвера хранилища.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders:   memory.NewOrderRepository(),
			catalog:  memory.NewCatalogRepository(),
			owners:   memory.NewOwnerDirectory(),
			timeline: memory.NewTimelineRepository(),
			outbox:   memory.NewOutboxRepository(),
			tx:       memory.NewTransactor(),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres storage requires dsn")
	}

	options := []postgres.Option{
		postgres.WithLogger(logger.WithField("component", "postgres")),
	}
	if cfg.PostgresMaxConns > 0 {
		options = append(options, postgres.WithPool(cfg.PostgresMaxConns, cfg.PostgresMaxConns))
	}
	if cfg.PostgresLogQueries {
		options = append(options, postgres.WithQueryLogger(logging.NewSQLLogger(logger.WithField("component", "sql"))))
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN, options...)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}
	logger.Info("using postgres storage")

	return &runtimeDependencies{
		orders:         postgres.NewOrderRepository(store),
		catalog:        postgres.NewCatalogRepository(store),
		owners:         postgres.NewOwnerDirectory(store),
		timeline:       postgres.NewTimelineRepository(store),
		outbox:         postgres.NewOutboxRepository(store),
		tx:             store.Transactor(),
		storageChecker: healthcheck.NewPingChecker("postgres", store, 0),
		closeFn:        store.Close,
	}, nil
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
