package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// ReconcileSuccess применяет подтверждение оплаты: pending → completed.
//
// Переход, счётчики продаж, таймлайн и outbox записываются одной транзакцией,
// условной по статусу pending. Уведомление владельцу отправляется после фиксации.
// Отклонённые события и проигранные гонки возвращают nil: задача подтверждается.
func (s *Service) ReconcileSuccess(ctx context.Context, event domain.PaymentEvent) (Outcome, error) {
	started := time.Now()
	kind := domain.PaymentEventSucceeded
	logger := s.logger.WithFields(log.Fields{
		"order_id":       event.OrderID,
		"transaction_id": event.TransactionID,
		"handler":        "success",
	})

	order, err := s.loadOrder(ctx, event.OrderID)
	if err != nil {
		s.finish(kind, OutcomeFailed, started)
		return OutcomeFailed, err
	}

	if err := s.validator.Validate(kind, event, order); err != nil {
		s.finish(kind, OutcomeRejected, started)
		return OutcomeRejected, nil
	}

	now := s.now()
	var completed domain.Order
	// С memory.Transactor шаги не откатываются: ошибка после перехода оставит заказ
	// в конечном статусе. Память не отказывает на записи, Postgres откатывает всё.
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		updated, err := s.orders.CompletePending(ctx, order.ID, domain.Completion{
			TransactionID:  event.TransactionID,
			PayerReference: event.PayerReference,
			At:             now,
		})
		if err != nil {
			return err
		}
		// Позиции заказа неизменны, берём их из прочитанного снимка.
		if len(updated.Items) == 0 {
			updated.Items = order.Items
		}

		if err := s.catalog.IncrementSales(ctx, updated.Items); err != nil {
			return fmt.Errorf("increment sales: %w", err)
		}
		if err := s.journal.Record(ctx, updated, domain.TimelinePaymentSucceeded, event.TransactionID, now); err != nil {
			return err
		}

		completed = updated
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTransitionRejected):
		logger.Info("order finalized concurrently, success event dropped")
		s.finish(kind, OutcomeRaceLost, started)
		return OutcomeRaceLost, nil
	case errors.Is(err, domain.ErrOrderNotFound):
		logger.Warn("order disappeared before completion")
		s.metrics.RecordRejection(string(domain.RejectOrderNotFound))
		s.finish(kind, OutcomeRejected, started)
		return OutcomeRejected, nil
	default:
		logger.WithError(err).Error("failed to complete order")
		s.finish(kind, OutcomeFailed, started)
		return OutcomeFailed, storageError("complete order", err)
	}

	logger.WithFields(log.Fields{
		"amount":   completed.Amount.String(),
		"currency": completed.Currency,
		"version":  completed.Version,
	}).Info("order completed")
	s.finish(kind, OutcomeApplied, started)

	if s.dispatcher != nil {
		s.dispatcher.OrderCompleted(ctx, completed)
	}

	return OutcomeApplied, nil
}
