package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	log "github.com/sirupsen/logrus"
)

// EnvPrefix — префикс переменных окружения сервиса.
const EnvPrefix = "FARMOMS_"

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы каталога и складского учёта.
const (
	InventoryDriverMemory   = "memory"
	InventoryDriverPostgres = "postgres"
	InventoryDriverRedis    = "redis"
	InventoryDriverMongo    = "mongo"
)

// Платёжные провайдеры.
const (
	PaymentProviderSandbox = "sandbox"
	PaymentProviderStripe  = "stripe"
)

// Config описывает настройки запуска приложения. Заполняется из переменных FARMOMS_*.
type Config struct {
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	StorageDriver       string `env:"STORAGE_DRIVER" envDefault:"memory"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`
	PostgresMaxConns    int    `env:"POSTGRES_MAX_CONNS" envDefault:"25"`

	// При пустом InventoryDriver каталог хранится там же, где заказы.
	InventoryDriver string `env:"INVENTORY_DRIVER"`
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	MongoURI        string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"farmoms"`

	PaymentProvider      string        `env:"PAYMENT_PROVIDER" envDefault:"sandbox"`
	StripeSecretKey      string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string        `env:"STRIPE_WEBHOOK_SECRET"`
	SandboxWebhookSecret string        `env:"SANDBOX_WEBHOOK_SECRET" envDefault:"whsec_sandbox"`
	PaymentTimeout       time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`
	BreakerFailureRatio  float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests   uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerOpenTimeout   time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`

	JWTSecret string `env:"JWT_SECRET"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaClientID      string   `env:"KAFKA_CLIENT_ID" envDefault:"farmoms"`
	KafkaOrderTopic    string   `env:"KAFKA_ORDER_TOPIC" envDefault:"farmoms.order.events"`
	KafkaDLQTopic      string   `env:"KAFKA_DLQ_TOPIC" envDefault:"farmoms.dlq"`
	KafkaPaymentTopic  string   `env:"KAFKA_PAYMENT_TOPIC" envDefault:"farmoms.payment.events"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"farmoms-payments"`
	// KafkaConsumePayments включает приём событий провайдера из Kafka.
	KafkaConsumePayments bool `env:"KAFKA_CONSUME_PAYMENTS" envDefault:"false"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY" envDefault:"50ms"`
	// После OutboxStaleAfter ожидания самого старого события /healthz отдаёт degraded.
	OutboxStaleAfter time.Duration `env:"OUTBOX_STALE_AFTER" envDefault:"5m"`

	IdempotencyCleanupInterval  time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1m"`
	IdempotencyCleanupBatchSize int           `env:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" envDefault:"500"`

	OrderUpdateMaxAttempts int    `env:"ORDER_UPDATE_ATTEMPTS" envDefault:"5"`
	DefaultCurrency        string `env:"DEFAULT_CURRENCY" envDefault:"usd"`

	StockReleaseAttempts int           `env:"STOCK_RELEASE_ATTEMPTS" envDefault:"5"`
	StockReleaseDelay    time.Duration `env:"STOCK_RELEASE_DELAY" envDefault:"50ms"`

	OTLPEndpoint    string  `env:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig возвращает конфигурацию со значениями по умолчанию, без чтения окружения.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig читает конфигурацию из переменных окружения FARMOMS_*.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate отклоняет несовместимые комбинации настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("FARMOMS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.inventoryDriver() {
	case InventoryDriverMemory, InventoryDriverRedis, InventoryDriverMongo:
	case InventoryDriverPostgres:
		if c.StorageDriver != StorageDriverPostgres && strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("FARMOMS_POSTGRES_DSN is required for postgres inventory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported inventory driver %q", c.InventoryDriver))
	}

	switch c.PaymentProvider {
	case PaymentProviderSandbox:
	case PaymentProviderStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("stripe provider requires FARMOMS_STRIPE_SECRET_KEY and FARMOMS_STRIPE_WEBHOOK_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported payment provider %q", c.PaymentProvider))
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("FARMOMS_JWT_SECRET is required"))
	}
	if c.KafkaConsumePayments && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("FARMOMS_KAFKA_BROKERS is required to consume payment events"))
	}
	if c.PaymentTimeout <= 0 {
		errs = append(errs, errors.New("FARMOMS_PAYMENT_TIMEOUT must be positive"))
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("FARMOMS_BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.OrderUpdateMaxAttempts <= 0 {
		errs = append(errs, errors.New("FARMOMS_ORDER_UPDATE_ATTEMPTS must be positive"))
	}
	if c.StockReleaseAttempts <= 0 {
		errs = append(errs, errors.New("FARMOMS_STOCK_RELEASE_ATTEMPTS must be positive"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("FARMOMS_DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("FARMOMS_LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("FARMOMS_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// inventoryDriver возвращает драйвер каталога с учётом значения по умолчанию.
func (c Config) inventoryDriver() string {
	if c.InventoryDriver != "" {
		return c.InventoryDriver
	}
	if c.StorageDriver == StorageDriverPostgres {
		return InventoryDriverPostgres
	}
	return InventoryDriverMemory
}
