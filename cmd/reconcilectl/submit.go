package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
)

type eventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
	Close() error
}

var newEventPublisher = func(brokers []string, clientID string) (eventPublisher, error) {
	return kafka.NewProducer(brokers, clientID)
}

type submitOptions struct {
	kind           string
	topic          string
	eventID        string
	transactionID  string
	orderID        string
	metadataOrder  string
	amountMinor    int64
	currency       string
	payerReference string
}

// event собирает событие шлюза из флагов. Поля не проверяются:
// команда нужна в том числе для отправки заведомо некорректных событий.
func (o submitOptions) event() domain.PaymentEvent {
	eventID := strings.TrimSpace(o.eventID)
	if eventID == "" {
		eventID = uuid.New().String()
	}
	return domain.PaymentEvent{
		EventID:        eventID,
		Kind:           domain.PaymentEventKind(strings.ToLower(strings.TrimSpace(o.kind))),
		TransactionID:  o.transactionID,
		OrderID:        o.orderID,
		AmountMinor:    o.amountMinor,
		Currency:       o.currency,
		PayerReference: o.payerReference,
		Metadata:       domain.PaymentMetadata{OrderID: o.metadataOrder},
	}
}

// targetTopic выбирает топик: явный --topic или топик по исходу платежа.
func (o submitOptions) targetTopic(kind domain.PaymentEventKind) (string, error) {
	if topic := strings.TrimSpace(o.topic); topic != "" {
		return topic, nil
	}
	topic, ok := kafka.DefaultTopics().TopicFor(kind)
	if !ok {
		return "", fmt.Errorf("unknown event kind %q (use succeeded|failed or set --topic)", kind)
	}
	return topic, nil
}

func submitCmd(opts *rootOptions) *cobra.Command {
	var so submitOptions

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a payment gateway event to the reconciler topics",
		Example: `  reconcilectl submit --kind succeeded --order-id O1 --tx tx_1 --amount-minor 1000 --currency USD
  reconcilectl submit --kind failed --order-id O1 --tx tx_9`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers := opts.kafkaBrokers()
			if len(brokers) == 0 {
				return fmt.Errorf("kafka brokers are required (--brokers or %s)", envKafkaBrokers)
			}

			event := so.event()
			topic, err := so.targetTopic(event.Kind)
			if err != nil {
				return err
			}

			publisher, err := newEventPublisher(brokers, opts.clientID)
			if err != nil {
				return err
			}
			defer func() { _ = publisher.Close() }()

			return publishEvent(cmd, publisher, topic, event)
		},
	}

	cmd.Flags().StringVar(&so.kind, "kind", string(domain.PaymentEventSucceeded), "payment outcome: succeeded|failed")
	cmd.Flags().StringVar(&so.topic, "topic", "", "override the target topic")
	cmd.Flags().StringVar(&so.eventID, "event-id", "", "event id (random uuid when empty)")
	cmd.Flags().StringVar(&so.transactionID, "tx", "", "gateway transaction id")
	cmd.Flags().StringVar(&so.orderID, "order-id", "", "order id")
	cmd.Flags().StringVar(&so.metadataOrder, "metadata-order-id", "", "order id echoed back in gateway metadata")
	cmd.Flags().Int64Var(&so.amountMinor, "amount-minor", 0, "charged amount in minor units")
	cmd.Flags().StringVar(&so.currency, "currency", "", "ISO-4217 currency code")
	cmd.Flags().StringVar(&so.payerReference, "payer", "", "payer reference")

	return cmd
}

func publishEvent(cmd *cobra.Command, publisher eventPublisher, topic string, event domain.PaymentEvent) error {
	key := event.OrderID
	if key == "" {
		key = event.EventID
	}
	if err := publisher.PublishEvent(cmd.Context(), topic, key, kafka.NewTaskMessage(event)); err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}

	log.WithFields(log.Fields{
		"topic":    topic,
		"event_id": event.EventID,
		"order_id": event.OrderID,
		"kind":     event.Kind,
	}).Info("payment event submitted")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), event.EventID)
	return nil
}
