package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vladislavdragonenkov/reconciler/internal/logging"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит заказы в памяти процесса (dev, тесты).
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит заказы в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// ConfigPathEnv указывает путь к YAML-файлу конфигурации.
	ConfigPathEnv = "RECONCILER_CONFIG"
)

// Config описывает настройки запуска сервиса сверки.
type Config struct {
	// MetricsAddr — адрес ops HTTP-сервера (/metrics, /healthz, /admin/reaper/run).
	MetricsAddr string `yaml:"metrics_addr" env:"RECONCILER_METRICS_ADDR" env-default:":9090"`

	StorageDriver       string `yaml:"storage_driver" env:"RECONCILER_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN         string `yaml:"postgres_dsn" env:"RECONCILER_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate" env:"RECONCILER_POSTGRES_AUTO_MIGRATE" env-default:"true"`
	PostgresLogQueries  bool   `yaml:"postgres_log_queries" env:"RECONCILER_POSTGRES_LOG_QUERIES"`
	PostgresMaxConns    int    `yaml:"postgres_max_conns" env:"RECONCILER_POSTGRES_MAX_CONNS" env-default:"25"`

	Kafka   KafkaConfig    `yaml:"kafka"`
	Pool    PoolConfig     `yaml:"pool"`
	Reaper  ReaperConfig   `yaml:"reaper"`
	Notify  NotifyConfig   `yaml:"notifications"`
	Outbox  OutboxConfig   `yaml:"outbox"`
	Logging logging.Config `yaml:"logging"`
}

// KafkaConfig описывает подключение к Kafka. Пустой Brokers отключает Kafka целиком.
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers" env:"RECONCILER_KAFKA_BROKERS" env-separator:","`
	GroupID            string   `yaml:"group_id" env:"RECONCILER_KAFKA_GROUP_ID" env-default:"payment-reconciler"`
	ClientID           string   `yaml:"client_id" env:"RECONCILER_KAFKA_CLIENT_ID" env-default:"payment-reconciler"`
	MaxRedeliveries    int      `yaml:"max_redeliveries" env:"RECONCILER_KAFKA_MAX_REDELIVERIES" env-default:"3"`
	SucceededTopic     string   `yaml:"succeeded_topic" env:"RECONCILER_TOPIC_SUCCEEDED" env-default:"marketplace.payments.succeeded"`
	FailedTopic        string   `yaml:"failed_topic" env:"RECONCILER_TOPIC_FAILED" env-default:"marketplace.payments.failed"`
	NotificationsTopic string   `yaml:"notifications_topic" env:"RECONCILER_TOPIC_NOTIFICATIONS" env-default:"marketplace.notifications"`
	OrderEventsTopic   string   `yaml:"order_events_topic" env:"RECONCILER_TOPIC_ORDER_EVENTS" env-default:"marketplace.order.events"`
	DeadLetterTopic    string   `yaml:"dead_letter_topic" env:"RECONCILER_TOPIC_DLQ" env-default:"marketplace.dlq"`
}

// PoolConfig настраивает пул воркеров сверки и in-process retry.
type PoolConfig struct {
	Workers       int           `yaml:"workers" env:"RECONCILER_WORKERS" env-default:"8"`
	QueueCapacity int           `yaml:"queue_capacity" env:"RECONCILER_QUEUE_CAPACITY" env-default:"256"`
	RetryAttempts int           `yaml:"retry_attempts" env:"RECONCILER_RETRY_ATTEMPTS" env-default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"RECONCILER_RETRY_DELAY" env-default:"100ms"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"RECONCILER_RETRY_MAX_DELAY" env-default:"5s"`
	RetryJitter   float64       `yaml:"retry_jitter" env:"RECONCILER_RETRY_JITTER" env-default:"0.2"`
}

// ReaperConfig настраивает периодическую отмену просроченных заказов.
type ReaperConfig struct {
	Enabled        bool          `yaml:"enabled" env:"RECONCILER_REAPER_ENABLED" env-default:"true"`
	Interval       time.Duration `yaml:"interval" env:"RECONCILER_REAPER_INTERVAL" env-default:"1h"`
	ThresholdHours int           `yaml:"threshold_hours" env:"RECONCILER_REAPER_THRESHOLD_HOURS" env-default:"24"`
	BatchSize      int           `yaml:"batch_size" env:"RECONCILER_REAPER_BATCH_SIZE" env-default:"500"`
}

// NotifyConfig настраивает отправку уведомлений владельцам.
type NotifyConfig struct {
	Timeout             time.Duration `yaml:"timeout" env:"RECONCILER_NOTIFY_TIMEOUT" env-default:"5s"`
	BreakerMaxFailures  int           `yaml:"breaker_max_failures" env:"RECONCILER_NOTIFY_BREAKER_MAX_FAILURES" env-default:"5"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"RECONCILER_NOTIFY_BREAKER_RESET" env-default:"30s"`
}

// OutboxConfig настраивает публикацию событий заказов из transactional outbox.
type OutboxConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" env:"RECONCILER_OUTBOX_POLL_INTERVAL" env-default:"1s"`
	BatchSize         int           `yaml:"batch_size" env:"RECONCILER_OUTBOX_BATCH_SIZE" env-default:"100"`
	MaxAttempts       int           `yaml:"max_attempts" env:"RECONCILER_OUTBOX_MAX_ATTEMPTS" env-default:"3"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RECONCILER_OUTBOX_RETRY_DELAY" env-default:"100ms"`
	MaxPending        int           `yaml:"max_pending" env:"RECONCILER_OUTBOX_MAX_PENDING" env-default:"1000"`
	Retention         time.Duration `yaml:"retention" env:"RECONCILER_OUTBOX_RETENTION" env-default:"168h"`
	RetentionInterval time.Duration `yaml:"retention_interval" env:"RECONCILER_OUTBOX_RETENTION_INTERVAL" env-default:"10m"`
}

// DefaultConfig возвращает настройки по умолчанию: память, без Kafka.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		Kafka: KafkaConfig{
			GroupID:            "payment-reconciler",
			ClientID:           "payment-reconciler",
			MaxRedeliveries:    3,
			SucceededTopic:     kafka.TopicPaymentsSucceeded,
			FailedTopic:        kafka.TopicPaymentsFailed,
			NotificationsTopic: kafka.TopicNotifications,
			OrderEventsTopic:   kafka.TopicOrderEvents,
			DeadLetterTopic:    kafka.TopicDeadLetterQueue,
		},
		Pool: PoolConfig{
			Workers:       8,
			QueueCapacity: 256,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
			RetryMaxDelay: 5 * time.Second,
			RetryJitter:   0.2,
		},
		Reaper: ReaperConfig{
			Enabled:        true,
			Interval:       time.Hour,
			ThresholdHours: 24,
			BatchSize:      500,
		},
		Notify: NotifyConfig{
			Timeout:             5 * time.Second,
			BreakerMaxFailures:  5,
			BreakerResetTimeout: 30 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval:      time.Second,
			BatchSize:         100,
			MaxAttempts:       3,
			RetryDelay:        100 * time.Millisecond,
			MaxPending:        1000,
			Retention:         7 * 24 * time.Hour,
			RetentionInterval: 10 * time.Minute,
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     logging.FormatText,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig читает конфигурацию из YAML-файла (если задан path или RECONCILER_CONFIG)
// и переменных окружения. Переменные окружения имеют приоритет над файлом.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres storage requires RECONCILER_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.Reaper.ThresholdHours <= 0 {
		return fmt.Errorf("reaper threshold must be positive, got %d", c.Reaper.ThresholdHours)
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", c.Reaper.Interval)
	}
	if c.Pool.RetryJitter < 0 || c.Pool.RetryJitter > 1 {
		return fmt.Errorf("retry jitter must be within [0, 1], got %g", c.Pool.RetryJitter)
	}
	return nil
}

// KafkaEnabled сообщает, заданы ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers()) > 0
}

// KafkaBrokers возвращает список брокеров без пустых значений и пробелов.
func (c Config) KafkaBrokers() []string {
	brokers := make([]string, 0, len(c.Kafka.Brokers))
	for _, broker := range c.Kafka.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Topics возвращает имена топиков; пустые значения заменяются значениями по умолчанию.
func (c KafkaConfig) Topics() kafka.Topics {
	return kafka.Topics{
		Succeeded:     c.SucceededTopic,
		Failed:        c.FailedTopic,
		Notifications: c.NotificationsTopic,
		OrderEvents:   c.OrderEventsTopic,
		DeadLetter:    c.DeadLetterTopic,
	}.WithDefaults()
}

// Threshold возвращает возраст, после которого pending-заказ считается просроченным.
func (c ReaperConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdHours) * time.Hour
}
