package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5/stdlib"
	sqldblogger "github.com/simukti/sqldb-logger"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Options задаёт параметры пула соединений и логирования запросов.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// QueryLogger, если задан, получает каждый SQL-запрос.
	QueryLogger sqldblogger.Logger
	Logger      *log.Entry
}

// Option настраивает Store.
type Option func(*Options)

// WithPool задаёт размер пула соединений.
func WithPool(maxOpen, maxIdle int) Option {
	return func(o *Options) {
		o.MaxOpenConns = maxOpen
		o.MaxIdleConns = maxIdle
	}
}

// WithQueryLogger включает логирование SQL-запросов.
func WithQueryLogger(logger sqldblogger.Logger) Option {
	return func(o *Options) { o.QueryLogger = logger }
}

// WithLogger задаёт logger хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// Store оборачивает SQL-подключение к PostgreSQL и менеджер транзакций.
type Store struct {
	db     *sql.DB
	trm    *manager.Manager
	getter *trmsql.CtxGetter
	logger *log.Entry
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	opts := Options{
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "postgres")
	}

	db, err := openDB(dsn, opts.QueryLogger)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newStore(db, opts.Logger), nil
}

// openDB открывает пул через драйвер pgx; с queryLogger драйвер оборачивается sqldb-logger.
func openDB(dsn string, queryLogger sqldblogger.Logger) (*sql.DB, error) {
	if queryLogger == nil {
		return sql.Open("pgx", dsn)
	}
	return sqldblogger.OpenDriver(dsn, stdlib.GetDefaultDriver(), queryLogger,
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
		sqldblogger.WithLogArguments(false),
	), nil
}

func newStore(db *sql.DB, logger *log.Entry) *Store {
	return &Store{
		db: db,
		trm: manager.Must(
			trmsql.NewDefaultFactory(db),
			manager.WithCtxManager(trmcontext.DefaultManager),
		),
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
	}
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transactor возвращает менеджер транзакций: репозитории, вызванные внутри Do,
// работают в одной транзакции.
func (s *Store) Transactor() domain.Transactor {
	return s.trm
}

// conn возвращает транзакцию из контекста или пул соединений.
func (s *Store) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.Transactor = (*manager.Manager)(nil)
