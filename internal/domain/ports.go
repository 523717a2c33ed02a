package domain

import (
	"context"
	"time"
)

// Owner — получатель уведомлений о заказе.
type Owner struct {
	ID    string
	Email string
	Name  string
}

// OwnerDirectory разрешает владельца заказа по идентификатору.
type OwnerDirectory interface {
	// Lookup возвращает владельца или ErrOwnerNotFound.
	Lookup(ctx context.Context, ownerID string) (Owner, error)
}

// Notification — сообщение владельцу о финализированном заказе.
type Notification struct {
	ID      string
	Owner   Owner
	Summary OrderSummary
	SentAt  time.Time
}

// Notifier доставляет уведомления. Ошибки не откатывают сверку.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// DeleteProcessed удаляет до limit отправленных или упавших сообщений,
	// обновлённых раньше before, и возвращает число удалённых.
	DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// Типы интеграционных событий, которые пишутся в outbox.
const (
	OutboxAggregateOrder = "order"
	OutboxEventCompleted = "order.completed"
	OutboxEventCancelled = "order.cancelled"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
