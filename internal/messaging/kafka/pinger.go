package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// BrokerPinger проверяет, что хотя бы один брокер кластера доступен.
type BrokerPinger struct {
	brokers []string
	config  *sarama.Config
	dial    func(addrs []string, config *sarama.Config) (sarama.Client, error)
}

// NewBrokerPinger создаёт проверку доступности брокеров.
func NewBrokerPinger(brokers []string, clientID string) *BrokerPinger {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Metadata.Retry.Max = 0
	return &BrokerPinger{brokers: brokers, config: config, dial: sarama.NewClient}
}

// Ping открывает клиента, обновляет метаданные и закрывает его.
func (p *BrokerPinger) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("kafka brokers are not configured")
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg := *p.config
		timeout := deadlineTimeout(deadline)
		cfg.Net.DialTimeout = timeout
		cfg.Net.ReadTimeout = timeout
		cfg.Net.WriteTimeout = timeout
		return p.ping(ctx, &cfg)
	}
	return p.ping(ctx, p.config)
}

func (p *BrokerPinger) ping(ctx context.Context, config *sarama.Config) error {
	type result struct{ err error }
	done := make(chan result, 1)

	go func() {
		client, err := p.dial(p.brokers, config)
		if err != nil {
			done <- result{err: fmt.Errorf("connect kafka: %w", err)}
			return
		}
		defer client.Close()
		if err := client.RefreshMetadata(); err != nil {
			done <- result{err: fmt.Errorf("refresh kafka metadata: %w", err)}
			return
		}
		done <- result{}
	}()

	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deadlineTimeout(deadline time.Time) time.Duration {
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return time.Millisecond
	}
	return timeout
}
