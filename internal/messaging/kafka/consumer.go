package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/service/worker"
)

const defaultMaxRedeliveries = 3

// TaskSubmitter принимает задачи сверки. Реализуется worker.Pool.
type TaskSubmitter interface {
	Submit(ctx context.Context, task reconcile.Task) (<-chan worker.Result, error)
}

// ConsumerConfig задаёт параметры потребителя платёжных задач.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
	Topics   Topics
	// MaxRedeliveries — сколько раз сообщение возвращается в исходный топик
	// после временной ошибки, прежде чем уйти в DLQ.
	MaxRedeliveries int
}

// Consumer читает платёжные события, передаёт их пулу воркеров и подтверждает
// offset только после того, как задача завершилась.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      Topics
	submitter   TaskSubmitter
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer // Producer для DLQ и повторной доставки
	maxRetries  int       // Максимальное количество повторных доставок
}

// NewConsumer создает consumer group с поддержкой Dead Letter Queue
func NewConsumer(cfg ConsumerConfig, submitter TaskSubmitter, dlqProducer *Producer) (*Consumer, error) {
	if submitter == nil {
		return nil, errors.New("nil task submitter")
	}

	config := sarama.NewConfig()
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Платёжные события нельзя пропускать: новая группа читает с начала.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, cfg, submitter, dlqProducer, nil), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, submitter TaskSubmitter, dlqProducer *Producer, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	maxRetries := cfg.MaxRedeliveries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRedeliveries
	}
	return &Consumer{
		consumer:    group,
		topics:      cfg.Topics.WithDefaults(),
		submitter:   submitter,
		logger:      logger,
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	topics := c.topics.PaymentTopics()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed")
				// Сообщение не маркируем: после rebalance оно будет доставлено повторно.
				if session.Context().Err() != nil {
					return nil
				}
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage разбирает сообщение, ждёт завершения задачи и решает судьбу сообщения.
// Возвращённая ошибка означает, что offset подтверждать нельзя.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	task, err := DecodeTask(c.topics, message.Topic, message.Value)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":  message.Topic,
			"offset": message.Offset,
			"reason": domain.RejectMalformedEvent,
		}).Warn("payment task rejected at decode")
		if c.dlqProducer == nil {
			// Повтор не поможет: отклонённое сообщение подтверждаем.
			return nil
		}
		return c.deadLetter(ctx, message, err)
	}

	resultCh, err := c.submitter.Submit(ctx, task)
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}

	var result worker.Result
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	if result.Err == nil {
		c.logger.WithFields(log.Fields{
			"topic":          message.Topic,
			"order_id":       task.Event.OrderID,
			"transaction_id": task.Event.TransactionID,
			"outcome":        result.Outcome,
		}).Debug("payment task settled")
		return nil
	}

	if !domain.IsRetryable(result.Err) {
		return c.deadLetter(ctx, message, result.Err)
	}

	retryCount := c.getRetryCount(message)
	if retryCount < c.maxRetries {
		c.logger.WithError(result.Err).WithFields(log.Fields{
			"topic":       message.Topic,
			"order_id":    task.Event.OrderID,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will redeliver")
		return c.redeliver(ctx, message, retryCount+1, result.Err)
	}

	return c.deadLetter(ctx, message, result.Err)
}

// redeliver возвращает сообщение в исходный топик с увеличенным счётчиком повторов.
func (c *Consumer) redeliver(ctx context.Context, message *sarama.ConsumerMessage, retryCount int, cause error) error {
	if c.dlqProducer == nil {
		return cause
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
		{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
	}
	if err := c.dlqProducer.PublishRaw(ctx, message.Topic, string(message.Key), message.Value, headers); err != nil {
		return fmt.Errorf("failed to redeliver message: %w", err)
	}
	return nil
}

// deadLetter отправляет сообщение в DLQ. Без DLQ producer-а ошибка возвращается как есть.
func (c *Consumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	if c.dlqProducer == nil {
		return cause
	}
	if err := c.sendToDLQ(ctx, message, cause); err != nil {
		c.logger.WithError(err).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": c.getRetryCount(message),
	}).Info("message sent to DLQ")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		count, err := strconv.Atoi(string(header.Value))
		if err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error) error {
	failedAt := time.Now().UTC()
	dlqMessage := DeadLetterMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        c.getRetryCount(message),
	}

	value, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
	}
	return c.dlqProducer.PublishRaw(ctx, c.topics.DeadLetter, string(message.Key), value, headers)
}
