package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// OrderEvent — интеграционное событие о финализации заказа, уходящее через outbox.
type OrderEvent struct {
	OrderID           string             `json:"order_id"`
	Number            string             `json:"number,omitempty"`
	Status            domain.OrderStatus `json:"status"`
	Amount            string             `json:"amount"`
	Currency          string             `json:"currency"`
	ExternalReference string             `json:"external_reference,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// Journal записывает таймлайн и outbox в рамках транзакции перехода.
// Любой из репозиториев может отсутствовать.
type Journal struct {
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
}

// NewJournal создаёт журнал переходов.
func NewJournal(timeline domain.TimelineRepository, outbox domain.OutboxRepository) *Journal {
	return &Journal{timeline: timeline, outbox: outbox}
}

// Record фиксирует переход заказа. Ошибка откатывает транзакцию вместе с переходом.
func (j *Journal) Record(ctx context.Context, order domain.Order, timelineType, reason string, at time.Time) error {
	if j == nil {
		return nil
	}

	if j.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     timelineType,
			Reason:   reason,
			Occurred: at,
		}
		if err := j.timeline.Append(ctx, event); err != nil {
			return fmt.Errorf("append timeline event: %w", err)
		}
	}

	if j.outbox == nil {
		return nil
	}

	eventType := domain.OutboxEventCancelled
	if order.Status == domain.OrderStatusCompleted {
		eventType = domain.OutboxEventCompleted
	}
	payload, err := json.Marshal(OrderEvent{
		OrderID:           order.ID,
		Number:            order.Number,
		Status:            order.Status,
		Amount:            order.Amount.String(),
		Currency:          order.Currency,
		ExternalReference: order.ExternalReference,
		Reason:            reason,
		OccurredAt:        at,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	}
	if _, err := j.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}
