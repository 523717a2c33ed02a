package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/reconciler/internal/service/notify"
	"github.com/vladislavdragonenkov/reconciler/internal/service/outbox"
)

// messagingDependencies собирает исходящие каналы: уведомления и события outbox.
// Без Kafka используются log-реализации.
type messagingDependencies struct {
	producer     *kafka.Producer
	notifier     domain.Notifier
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	kafkaChecker healthcheck.Checker
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initMessaging собирает notifier и outbox publisher для конфигурации.
func initMessaging(cfg Config, logger *log.Entry) (*messagingDependencies, error) {
	brokers := cfg.KafkaBrokers()
	producer, err := initKafkaProducer(brokers, cfg.Kafka.ClientID, logger)
	if err != nil {
		return nil, err
	}

	if producer == nil {
		logger.Info("kafka is not configured, notifications and order events go to the log")
		return &messagingDependencies{
			notifier:  notify.NewLogNotifier(logger.WithField("component", "log-notifier")),
			publisher: outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher")),
		}, nil
	}

	topics := cfg.Kafka.Topics()
	return &messagingDependencies{
		producer:     producer,
		notifier:     kafka.NewNotifier(producer, topics.Notifications),
		publisher:    kafka.NewOutboxPublisher(producer, topics.OrderEvents),
		dlqPublisher: kafka.NewDLQPublisher(producer, topics.DeadLetter),
		kafkaChecker: healthcheck.NewPingChecker("kafka", kafka.NewBrokerPinger(brokers, cfg.Kafka.ClientID), 0),
	}, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
