package kafka

import (
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher отправляет outbox-сообщения в один topic.
// Ключом сообщения служит id заказа, поэтому события одного заказа остаются в одной партиции.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает farmoms.order.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(msg.EventType)},
	}
	if msg.AggregateType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderAggregateType), Value: []byte(msg.AggregateType)})
	}
	return p.producer.PublishEvent(p.topic, key, NewOrderEvent(msg, p.now()), headers...)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
