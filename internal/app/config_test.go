package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, PaymentProviderSandbox, cfg.PaymentProvider)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 5, cfg.OrderUpdateMaxAttempts)
	assert.Equal(t, 5, cfg.StockReleaseAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.StockReleaseDelay)
	assert.Equal(t, "usd", cfg.DefaultCurrency)
	assert.Equal(t, "farmoms.order.events", cfg.KafkaOrderTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Positive(t, cfg.OutboxPollInterval)
	assert.Positive(t, cfg.OutboxBatchSize)
	assert.Positive(t, cfg.IdempotencyCleanupInterval)
}

func TestDefaultConfig_IgnoresEnvironment(t *testing.T) {
	t.Setenv("FARMOMS_GRPC_ADDR", ":7777")
	t.Setenv("GRPC_ADDR", ":7778")

	assert.Equal(t, ":50051", DefaultConfig().GRPCAddr)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("FARMOMS_JWT_SECRET", "s3cret")
	t.Setenv("FARMOMS_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("FARMOMS_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("FARMOMS_PAYMENT_TIMEOUT", "3s")
	t.Setenv("FARMOMS_ORDER_UPDATE_ATTEMPTS", "7")
	t.Setenv("FARMOMS_INVENTORY_DRIVER", "redis")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPCAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 7, cfg.OrderUpdateMaxAttempts)
	assert.Equal(t, InventoryDriverRedis, cfg.inventoryDriver())
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	t.Setenv("FARMOMS_JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FARMOMS_JWT_SECRET")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	t.Setenv("FARMOMS_JWT_SECRET", "s3cret")
	t.Setenv("FARMOMS_PAYMENT_TIMEOUT", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with secret"},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: `unsupported storage driver "sqlite"`,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "FARMOMS_POSTGRES_DSN is required for postgres storage",
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.StorageDriver = StorageDriverPostgres
				c.PostgresDSN = "postgres://localhost/farmoms"
			},
		},
		{
			name:    "postgres inventory without dsn",
			mutate:  func(c *Config) { c.InventoryDriver = InventoryDriverPostgres },
			wantErr: "FARMOMS_POSTGRES_DSN is required for postgres inventory",
		},
		{
			name:    "unknown inventory driver",
			mutate:  func(c *Config) { c.InventoryDriver = "etcd" },
			wantErr: `unsupported inventory driver "etcd"`,
		},
		{
			name:    "stripe without keys",
			mutate:  func(c *Config) { c.PaymentProvider = PaymentProviderStripe },
			wantErr: "stripe provider requires",
		},
		{
			name: "stripe with keys",
			mutate: func(c *Config) {
				c.PaymentProvider = PaymentProviderStripe
				c.StripeSecretKey = "sk_test_123"
				c.StripeWebhookSecret = "whsec_123"
			},
		},
		{
			name:    "unknown payment provider",
			mutate:  func(c *Config) { c.PaymentProvider = "paypal" },
			wantErr: `unsupported payment provider "paypal"`,
		},
		{
			name:    "consume payments without brokers",
			mutate:  func(c *Config) { c.KafkaConsumePayments = true },
			wantErr: "FARMOMS_KAFKA_BROKERS is required",
		},
		{
			name:    "breaker ratio out of range",
			mutate:  func(c *Config) { c.BreakerFailureRatio = 1.5 },
			wantErr: "FARMOMS_BREAKER_FAILURE_RATIO",
		},
		{
			name:    "zero update attempts",
			mutate:  func(c *Config) { c.OrderUpdateMaxAttempts = 0 },
			wantErr: "FARMOMS_ORDER_UPDATE_ATTEMPTS",
		},
		{
			name:    "zero stock release attempts",
			mutate:  func(c *Config) { c.StockReleaseAttempts = 0 },
			wantErr: "FARMOMS_STOCK_RELEASE_ATTEMPTS",
		},
		{
			name:    "bad currency",
			mutate:  func(c *Config) { c.DefaultCurrency = "dollars" },
			wantErr: "FARMOMS_DEFAULT_CURRENCY",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "FARMOMS_LOG_LEVEL",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "FARMOMS_LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_JoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
	assert.Contains(t, err.Error(), "FARMOMS_JWT_SECRET")
}

func TestInventoryDriverDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, InventoryDriverMemory, cfg.inventoryDriver())

	cfg.StorageDriver = StorageDriverPostgres
	assert.Equal(t, InventoryDriverPostgres, cfg.inventoryDriver())

	cfg.InventoryDriver = InventoryDriverMongo
	assert.Equal(t, InventoryDriverMongo, cfg.inventoryDriver())
}
