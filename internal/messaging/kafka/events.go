package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
)

// Topics для Kafka
const (
	TopicPaymentsSucceeded = "marketplace.payments.succeeded"
	TopicPaymentsFailed    = "marketplace.payments.failed"
	TopicNotifications     = "marketplace.notifications"
	TopicOrderEvents       = "marketplace.order.events"
	TopicDeadLetterQueue   = "marketplace.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

var (
	// ErrUnknownTopic — топик не классифицирован как источник платёжных задач.
	ErrUnknownTopic = errors.New("topic is not a payment task source")
	// ErrMalformedTask — сообщение не удалось разобрать как платёжную задачу.
	ErrMalformedTask = errors.New("malformed payment task")
)

// Topics задаёт имена топиков сервиса.
type Topics struct {
	Succeeded     string
	Failed        string
	Notifications string
	OrderEvents   string
	DeadLetter    string
}

// DefaultTopics возвращает имена топиков по умолчанию.
func DefaultTopics() Topics {
	return Topics{
		Succeeded:     TopicPaymentsSucceeded,
		Failed:        TopicPaymentsFailed,
		Notifications: TopicNotifications,
		OrderEvents:   TopicOrderEvents,
		DeadLetter:    TopicDeadLetterQueue,
	}
}

// WithDefaults подставляет значения по умолчанию вместо пустых имён.
func (t Topics) WithDefaults() Topics {
	def := DefaultTopics()
	if t.Succeeded == "" {
		t.Succeeded = def.Succeeded
	}
	if t.Failed == "" {
		t.Failed = def.Failed
	}
	if t.Notifications == "" {
		t.Notifications = def.Notifications
	}
	if t.OrderEvents == "" {
		t.OrderEvents = def.OrderEvents
	}
	if t.DeadLetter == "" {
		t.DeadLetter = def.DeadLetter
	}
	return t
}

// PaymentTopics возвращает топики, на которые подписывается потребитель задач.
func (t Topics) PaymentTopics() []string {
	return []string{t.Succeeded, t.Failed}
}

// Expected классифицирует топик: какой исход ожидается от событий в нём.
func (t Topics) Expected(topic string) (domain.PaymentEventKind, bool) {
	switch topic {
	case t.Succeeded:
		return domain.PaymentEventSucceeded, true
	case t.Failed:
		return domain.PaymentEventFailed, true
	default:
		return "", false
	}
}

// TopicFor возвращает топик для исхода платежа.
func (t Topics) TopicFor(kind domain.PaymentEventKind) (string, bool) {
	switch kind {
	case domain.PaymentEventSucceeded:
		return t.Succeeded, true
	case domain.PaymentEventFailed:
		return t.Failed, true
	default:
		return "", false
	}
}

// LooseID — идентификатор, который шлюз может вернуть строкой или числом.
// При разборе всегда приводится к строке.
type LooseID string

// UnmarshalJSON принимает JSON-строку, целое число или null.
func (id *LooseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LooseID(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	// 42 и 42.0 означают один и тот же заказ; дробные значения оставляем как есть, они не совпадут.
	if d.IsInteger() {
		*id = LooseID(d.Truncate(0).String())
		return nil
	}
	*id = LooseID(num.String())
	return nil
}

// TaskMetadata — метаданные, которые шлюз вернул вместе с событием.
type TaskMetadata struct {
	OrderID LooseID `json:"order_id"`
}

// TaskMessage — формат сообщения с платёжным событием во входящих топиках.
type TaskMessage struct {
	EventID        string       `json:"event_id,omitempty"`
	EventKind      string       `json:"event_kind"`
	TransactionID  string       `json:"gateway_transaction_id"`
	OrderID        LooseID      `json:"order_id"`
	AmountMinor    int64        `json:"amount_minor_units"`
	Currency       string       `json:"currency,omitempty"`
	PayerReference string       `json:"payer_reference,omitempty"`
	Metadata       TaskMetadata `json:"metadata"`
}

// NewTaskMessage формирует сообщение из события (для CLI и тестов).
func NewTaskMessage(event domain.PaymentEvent) TaskMessage {
	return TaskMessage{
		EventID:        event.EventID,
		EventKind:      string(event.Kind),
		TransactionID:  event.TransactionID,
		OrderID:        LooseID(event.OrderID),
		AmountMinor:    event.AmountMinor,
		Currency:       event.Currency,
		PayerReference: event.PayerReference,
		Metadata:       TaskMetadata{OrderID: LooseID(event.Metadata.OrderID)},
	}
}

// Event переводит сообщение в доменное событие без какой-либо проверки.
func (m TaskMessage) Event() domain.PaymentEvent {
	return domain.PaymentEvent{
		EventID:        m.EventID,
		Kind:           domain.PaymentEventKind(strings.ToLower(strings.TrimSpace(m.EventKind))),
		TransactionID:  strings.TrimSpace(m.TransactionID),
		OrderID:        strings.TrimSpace(string(m.OrderID)),
		AmountMinor:    m.AmountMinor,
		Currency:       strings.TrimSpace(m.Currency),
		PayerReference: strings.TrimSpace(m.PayerReference),
		Metadata:       domain.PaymentMetadata{OrderID: string(m.Metadata.OrderID)},
	}
}

// DecodeTask разбирает сообщение топика в задачу сверки.
// Ожидаемый исход определяется топиком, а не содержимым сообщения.
func DecodeTask(topics Topics, topic string, value []byte) (reconcile.Task, error) {
	expected, ok := topics.Expected(topic)
	if !ok {
		return reconcile.Task{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var msg TaskMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return reconcile.Task{}, fmt.Errorf("%w: %w", ErrMalformedTask, err)
	}

	return reconcile.Task{Expected: expected, Event: msg.Event()}, nil
}

// NotificationEvent — уведомление владельцу заказа в топике уведомлений.
type NotificationEvent struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	OwnerID    string              `json:"owner_id"`
	OwnerEmail string              `json:"owner_email,omitempty"`
	OwnerName  string              `json:"owner_name,omitempty"`
	Order      domain.OrderSummary `json:"order"`
	SentAt     time.Time           `json:"sent_at"`
}

// NotificationOrderCompleted — тип уведомления об оплаченном заказе.
const NotificationOrderCompleted = "order.completed"

// DeadLetterMessage — конверт сообщения, которое потребитель не смог обработать.
type DeadLetterMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}
