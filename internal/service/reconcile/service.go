package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
)

// Outcome — итог обработки одного платёжного события.
type Outcome string

const (
	// OutcomeApplied — переход статуса выполнен.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected — валидатор отклонил событие.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRaceLost — другой писатель успел финализировать заказ раньше.
	OutcomeRaceLost Outcome = "race_lost"
	// OutcomeSkipped — событие об отказе для отсутствующего или финализированного заказа.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed — временная ошибка хранилища, задачу нужно повторить.
	OutcomeFailed Outcome = "failed"
)

// Task — явная задача сверки, которую ingestion-слой передаёт пулу воркеров.
// Expected задаётся классификацией источника (топиком), Event содержит утверждение шлюза.
type Task struct {
	Expected domain.PaymentEventKind
	Event    domain.PaymentEvent
}

// Dispatcher выполняет побочные эффекты после фиксации перехода.
// Ошибки не возвращаются: сверка не зависит от их результата.
type Dispatcher interface {
	OrderCompleted(ctx context.Context, order domain.Order)
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger     *log.Entry
	Metrics    *metrics.ReconcileMetrics
	Dispatcher Dispatcher
	Timeline   domain.TimelineRepository
	Outbox     domain.OutboxRepository
	Clock      func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики сверки.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithDispatcher задаёт диспетчер уведомлений.
func WithDispatcher(d Dispatcher) Option {
	return func(opts *Options) { opts.Dispatcher = d }
}

// WithTimeline задаёт репозиторий таймлайна.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) { opts.Timeline = repo }
}

// WithOutbox задаёт репозиторий outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = repo }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Service применяет платёжные события к заказам.
type Service struct {
	orders     domain.OrderRepository
	catalog    domain.CatalogRepository
	tx         domain.Transactor
	journal    *Journal
	validator  *Validator
	dispatcher Dispatcher
	logger     *log.Entry
	metrics    *metrics.ReconcileMetrics
	now        func() time.Time
}

// NewService создаёт сервис сверки.
func NewService(orders domain.OrderRepository, catalog domain.CatalogRepository, tx domain.Transactor, options ...Option) (*Service, error) {
	if orders == nil {
		return nil, errors.New("nil order repository")
	}
	if catalog == nil {
		return nil, errors.New("nil catalog repository")
	}
	if tx == nil {
		return nil, errors.New("nil transactor")
	}

	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "reconciler")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		orders:     orders,
		catalog:    catalog,
		tx:         tx,
		journal:    NewJournal(opts.Timeline, opts.Outbox),
		validator:  NewValidator(opts.Logger.WithField("stage", "validate"), opts.Metrics),
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Clock,
	}, nil
}

// Handle направляет задачу к нужному обработчику по ожидаемому исходу.
func (s *Service) Handle(ctx context.Context, task Task) (Outcome, error) {
	switch task.Expected {
	case domain.PaymentEventSucceeded:
		return s.ReconcileSuccess(ctx, task.Event)
	case domain.PaymentEventFailed:
		return s.ReconcileFailure(ctx, task.Event)
	default:
		rej := domain.Reject(domain.RejectMalformedEvent, "succeeded|failed", string(task.Expected))
		s.logger.WithFields(log.Fields{
			"expected": task.Expected,
			"order_id": task.Event.OrderID,
		}).Warn("task without known outcome classification dropped")
		s.metrics.RecordRejection(string(rej.Reason))
		return OutcomeRejected, nil
	}
}

// loadOrder возвращает nil без ошибки, если заказа нет.
func (s *Service) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, nil
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, storageError("load order", err)
	}
	return &order, nil
}

func (s *Service) finish(kind domain.PaymentEventKind, outcome Outcome, started time.Time) {
	s.metrics.RecordOutcome(string(kind), string(outcome), time.Since(started))
}

func storageError(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
