package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Результаты отправки для метрик.
const (
	ResultSent         = "sent"
	ResultFailed       = "failed"
	ResultOwnerMissing = "owner_missing"
	ResultSuppressed   = "suppressed"
)

// Dispatcher уведомляет владельца о завершённом заказе.
// Вызывается после фиксации перехода; любые ошибки только логируются.
type Dispatcher struct {
	owners   domain.OwnerDirectory
	notifier domain.Notifier
	breaker  *CircuitBreaker
	logger   *log.Entry
	metrics  *metrics.ReconcileMetrics
	timeout  time.Duration
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBreaker оборачивает notifier в circuit breaker.
func WithBreaker(breaker *CircuitBreaker) Option {
	return func(d *Dispatcher) { d.breaker = breaker }
}

// WithTimeout ограничивает время одной отправки.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(owners domain.OwnerDirectory, notifier domain.Notifier, options ...Option) *Dispatcher {
	d := &Dispatcher{
		owners:   owners,
		notifier: notifier,
		timeout:  defaultTimeout,
	}
	for _, option := range options {
		option(d)
	}
	if d.logger == nil {
		d.logger = log.WithField("component", "notification-dispatcher")
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	return d
}

// OrderCompleted отправляет владельцу сводку по заказу. Ничего не возвращает.
func (d *Dispatcher) OrderCompleted(ctx context.Context, order domain.Order) {
	if err := d.dispatch(ctx, order); err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"owner_id": order.OwnerID,
		}).Warn("owner notification not delivered")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, order domain.Order) error {
	if d.owners == nil || d.notifier == nil {
		d.metrics.RecordNotification(ResultSuppressed)
		return nil
	}

	// Отправка не должна зависеть от отмены задачи, которая уже зафиксировала переход.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	owner, err := d.owners.Lookup(ctx, order.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrOwnerNotFound) {
			d.metrics.RecordNotification(ResultOwnerMissing)
		} else {
			d.metrics.RecordNotification(ResultFailed)
		}
		return err
	}

	notification := domain.Notification{
		ID:      uuid.NewString(),
		Owner:   owner,
		Summary: order.Summary(),
		SentAt:  time.Now().UTC(),
	}

	send := func() error { return d.notifier.Notify(ctx, notification) }
	if d.breaker != nil {
		err = d.breaker.Execute("notify", send)
	} else {
		err = send()
	}

	switch {
	case err == nil:
		d.metrics.RecordNotification(ResultSent)
		d.logger.WithFields(log.Fields{
			"order_id":        order.ID,
			"owner_id":        owner.ID,
			"notification_id": notification.ID,
		}).Debug("owner notified")
		return nil
	case errors.Is(err, ErrCircuitOpen):
		d.metrics.RecordNotification(ResultSuppressed)
	default:
		d.metrics.RecordNotification(ResultFailed)
	}
	return errors.Join(domain.ErrNotificationFailed, err)
}
