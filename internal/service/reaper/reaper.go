package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
)

const (
	// DefaultThreshold — возраст, после которого неоплаченный заказ считается брошенным.
	DefaultThreshold = 24 * time.Hour

	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
	staleReason      = "payment not received within threshold"
)

// Options задаёт параметры reaper-а.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.ReconcileMetrics
	Journal   *reconcile.Journal
	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
}

// Option настраивает Reaper.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithJournal задаёт журнал для таймлайна и outbox отменённых заказов.
func WithJournal(journal *reconcile.Journal) Option {
	return func(opts *Options) {
		opts.Journal = journal
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithThreshold задаёт порог устаревания.
func WithThreshold(threshold time.Duration) Option {
	return func(opts *Options) {
		opts.Threshold = threshold
	}
}

// WithBatchSize задаёт размер batch для одной условной записи.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Reaper периодически отменяет заказы, застрявшие в pending дольше порога.
// Шлюз не опрашивается: это чисто временная компенсация.
type Reaper struct {
	orders    domain.OrderRepository
	tx        domain.Transactor
	journal   *reconcile.Journal
	logger    *log.Entry
	metrics   *metrics.ReconcileMetrics
	interval  time.Duration
	threshold time.Duration
	batchSize int
}

// New создаёт reaper.
func New(orders domain.OrderRepository, tx domain.Transactor, options ...Option) *Reaper {
	opts := Options{
		Interval:  defaultInterval,
		Threshold: DefaultThreshold,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stale-order-reaper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Reaper{
		orders:    orders,
		tx:        tx,
		journal:   opts.Journal,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		batchSize: opts.BatchSize,
	}
}

// Threshold возвращает порог устаревания.
func (r *Reaper) Threshold() time.Duration {
	return r.threshold
}

// Run выполняет проход сразу и затем на каждом тике до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	if r.orders == nil || r.tx == nil {
		r.logger.Warn("stale order reaper is disabled: repo or transactor is nil")
		return
	}

	r.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, time.Now().UTC())
		}
	}
}

func (r *Reaper) sweep(ctx context.Context, now time.Time) {
	cancelled, err := r.Sweep(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).WithField("cancelled", cancelled).Warn("stale order sweep failed")
		return
	}
	if cancelled > 0 {
		r.logger.WithFields(log.Fields{
			"cancelled":       cancelled,
			"threshold_hours": r.threshold.Hours(),
		}).Info("stale orders cancelled")
	}
}

// Sweep отменяет все pending-заказы старше now − threshold и возвращает их количество.
// Каждая порция пишется отдельной транзакцией; строка меняется, только если она всё ещё pending.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	before := now.Add(-r.threshold)

	total := 0
	defer func() { r.metrics.RecordReaperRun(total, now) }()

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var batch []domain.Order
		// memory.Transactor не откатывает отмену, если журнал вернул ошибку.
		err := r.tx.Do(ctx, func(ctx context.Context) error {
			cancelled, err := r.orders.CancelStale(ctx, before, r.batchSize, now)
			if err != nil {
				return err
			}
			for _, order := range cancelled {
				if err := r.journal.Record(ctx, order, domain.TimelineOrderReaped, staleReason, now); err != nil {
					return err
				}
			}
			batch = cancelled
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("cancel stale orders: %w", err)
		}

		total += len(batch)
		for _, order := range batch {
			r.logger.WithFields(log.Fields{
				"order_id":   order.ID,
				"created_at": order.CreatedAt,
			}).Debug("stale order cancelled")
		}

		if len(batch) < r.batchSize {
			break
		}
	}

	return total, nil
}
