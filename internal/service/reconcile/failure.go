package reconcile

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// ReconcileFailure применяет отказ в оплате: pending → cancelled.
// Отсутствующий или уже финализированный заказ означает информационный no-op.
func (s *Service) ReconcileFailure(ctx context.Context, event domain.PaymentEvent) (Outcome, error) {
	started := time.Now()
	kind := domain.PaymentEventFailed
	logger := s.logger.WithFields(log.Fields{
		"order_id":       event.OrderID,
		"transaction_id": event.TransactionID,
		"handler":        "failure",
	})

	order, err := s.loadOrder(ctx, event.OrderID)
	if err != nil {
		s.finish(kind, OutcomeFailed, started)
		return OutcomeFailed, err
	}
	if order == nil {
		logger.Info("failure event for unknown order ignored")
		s.finish(kind, OutcomeSkipped, started)
		return OutcomeSkipped, nil
	}
	if order.Status.Terminal() {
		logger.WithField("status", order.Status).Info("failure event for finalized order ignored")
		s.finish(kind, OutcomeSkipped, started)
		return OutcomeSkipped, nil
	}

	if err := s.validator.ValidateFailure(event, order); err != nil {
		s.finish(kind, OutcomeRejected, started)
		return OutcomeRejected, nil
	}

	now := s.now()
	// С memory.Transactor шаги не откатываются: ошибка после перехода оставит заказ
	// в конечном статусе. Память не отказывает на записи, Postgres откатывает всё.
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		cancelled, err := s.orders.CancelPending(ctx, order.ID, event.TransactionID, now)
		if err != nil {
			return err
		}
		return s.journal.Record(ctx, cancelled, domain.TimelinePaymentFailed, event.TransactionID, now)
	})

	switch {
	case err == nil:
		logger.Info("order cancelled after failed payment")
		s.finish(kind, OutcomeApplied, started)
		return OutcomeApplied, nil
	case errors.Is(err, domain.ErrTransitionRejected), errors.Is(err, domain.ErrOrderNotFound):
		logger.Info("order finalized concurrently, failure event dropped")
		s.finish(kind, OutcomeRaceLost, started)
		return OutcomeRaceLost, nil
	default:
		logger.WithError(err).Error("failed to cancel order")
		s.finish(kind, OutcomeFailed, started)
		return OutcomeFailed, storageError("cancel order", err)
	}
}
