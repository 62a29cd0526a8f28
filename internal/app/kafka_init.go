package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Без брокеров возвращает nil, nil: события остаются в outbox до появления брокера.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers,
		kafka.WithClientID(cfg.KafkaClientID),
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")),
	)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer, nil
}

// startPaymentConsumer подписывается на платёжные события, если это включено.
func startPaymentConsumer(ctx context.Context, cfg Config, handler kafka.WebhookHandler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if !cfg.KafkaConsumePayments {
		return nil, nil
	}

	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer"))}
	if dlq != nil {
		opts = append(opts, kafka.WithDLQ(dlq))
	}

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaPaymentTopic},
		kafka.NewWebhookRelay(handler, logger.WithField("component", "payment-events-relay")),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
