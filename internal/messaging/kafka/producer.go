package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

var errProducerClosed = errors.New("kafka client is closed")

const defaultSendRetries = 5

// Producer отправляет события заказов в Kafka синхронно: вызов возвращается
// только после подтверждения от всех in-sync реплик.
type Producer struct {
	producer sarama.SyncProducer
	client   sarama.Client
	logger   *log.Entry
	now      func() time.Time
}

type producerSettings struct {
	clientID string
	retries  int
	logger   *log.Entry
}

// ProducerOption настраивает Producer.
type ProducerOption func(*producerSettings)

// WithClientID задаёт client.id, под которым producer виден брокерам.
func WithClientID(id string) ProducerOption {
	return func(s *producerSettings) {
		if id != "" {
			s.clientID = id
		}
	}
}

// WithSendRetries задаёт число повторов отправки внутри sarama.
// Идемпотентному producer нужен хотя бы один повтор, поэтому n<1 игнорируется.
func WithSendRetries(n int) ProducerOption {
	return func(s *producerSettings) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(s *producerSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func producerConfig(s producerSettings) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = s.clientID
	// Идемпотентный producer требует acks=all и одного in-flight запроса.
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = s.retries
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

// NewProducer подключается к брокерам и создаёт sync producer.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	settings := producerSettings{
		clientID: "farmoms",
		retries:  defaultSendRetries,
		logger:   log.WithField("component", "kafka-producer"),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	client, err := sarama.NewClient(brokers, producerConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("connect to kafka %v: %w", brokers, err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(producer, client, settings.logger), nil
}

func newProducer(producer sarama.SyncProducer, client sarama.Client, logger *log.Entry) *Producer {
	return &Producer{
		producer: producer,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishEvent кодирует event в JSON и отправляет его в topic.
func (p *Producer) PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}
	return p.PublishRaw(topic, key, value, headers...)
}

// PublishRaw отправляет готовые байты; используется при повторной доставке из DLQ.
func (p *Producer) PublishRaw(topic, key string, value []byte, headers ...sarama.RecordHeader) error {
	fields := log.Fields{"topic": topic, "key": key}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: p.now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	p.logger.WithFields(fields).WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("kafka message sent")
	return nil
}

// Check проверяет доступность брокеров для readiness-пробы.
func (p *Producer) Check(_ context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.client.Closed() {
		return errProducerClosed
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	return nil
}

// Close останавливает producer и закрывает клиент.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	if p.client == nil || p.client.Closed() {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close kafka client: %w", err)
	}
	return nil
}
