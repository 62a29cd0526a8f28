package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/messaging/kafka"
)

func TestInitKafkaProducer_NoBrokers(t *testing.T) {
	producer, err := initKafkaProducer(validConfig(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, producer)
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	cfg := validConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	producer, err := initKafkaProducer(cfg, testLogger())
	require.Error(t, err)
	assert.Nil(t, producer)
	assert.Contains(t, err.Error(), "failed to create kafka client")
}

func TestStartPaymentConsumer_Disabled(t *testing.T) {
	consumer, err := startPaymentConsumer(context.Background(), validConfig(), &stubWebhookHandler{}, nil, testLogger())
	require.NoError(t, err)
	assert.Nil(t, consumer)
}

func TestKafkaShutdownHelpers_NilSafe(t *testing.T) {
	var producer *kafka.Producer
	var consumer *kafka.Consumer

	assert.NotPanics(t, func() {
		closeKafkaProducer(producer, testLogger())
		stopKafkaConsumer(consumer, testLogger())
	})
}
