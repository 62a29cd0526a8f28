// Package kafka связывает сервис с Kafka: публикация outbox-событий и приём платёжных событий.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "farmoms.order.events"
	TopicPaymentEvents   = "farmoms.payment.events"
	TopicDeadLetterQueue = "farmoms.dlq"
)

// Kafka headers
const (
	// HeaderSignature несёт подпись провайдера для сообщений farmoms.payment.events.
	HeaderSignature     = "signature"
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent — сообщение топика farmoms.order.events.
// Payload содержит JSON, записанный в outbox вместе с изменением заказа.
type OrderEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOrderEvent оборачивает outbox-сообщение.
func NewOrderEvent(msg domain.OutboxMessage, publishedAt time.Time) *OrderEvent {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		payload = quoted
	}
	return &OrderEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

// ParseOrderEvent парсит OrderEvent из сообщения
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// DeadLetter описывает сообщение, которое consumer не смог обработать и отправил в farmoms.dlq.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	// OriginalSignature хранит заголовок подписи исходного сообщения для повторной доставки.
	OriginalSignature string `json:"original_signature,omitempty"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	Attempts          int    `json:"attempts"`
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
