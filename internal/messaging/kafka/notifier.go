package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Notifier публикует уведомления владельцам заказов в Kafka.
// Доставку до адресата выполняет отдельный сервис уведомлений.
type Notifier struct {
	producer *Producer
	topic    string
}

// NewNotifier создаёт Kafka notifier.
func NewNotifier(producer *Producer, topic string) *Notifier {
	if topic == "" {
		topic = TopicNotifications
	}
	return &Notifier{producer: producer, topic: topic}
}

// Notify реализует domain.Notifier.
func (n *Notifier) Notify(ctx context.Context, notification domain.Notification) error {
	if n == nil || n.producer == nil {
		return fmt.Errorf("kafka notifier is not initialized")
	}

	event := NotificationEvent{
		ID:         notification.ID,
		Type:       NotificationOrderCompleted,
		OwnerID:    notification.Owner.ID,
		OwnerEmail: notification.Owner.Email,
		OwnerName:  notification.Owner.Name,
		Order:      notification.Summary,
		SentAt:     notification.SentAt,
	}
	if err := n.producer.PublishEvent(ctx, n.topic, notification.Owner.ID, event); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotificationFailed, err)
	}
	return nil
}

var _ domain.Notifier = (*Notifier)(nil)
