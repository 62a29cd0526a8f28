package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return errors.New("message must be keyed by order id")
		}
		value, _ := msg.Value.Encode()
		var event OrderEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.EventType != domain.EventOrderStatusChanged || event.ID != "outbox-1" {
			return errors.New("unexpected envelope")
		}
		if len(msg.Headers) != 2 || string(msg.Headers[1].Key) != HeaderAggregateType || string(msg.Headers[1].Value) != "order" {
			return errors.New("aggregate type header is missing")
		}
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil, testLogger()), "")
	publisher.now = func() time.Time { return time.Unix(0, 0).UTC() }
	require.Equal(t, TopicOrderEvents, publisher.topic)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_KeyFallsBackToMessageID(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "outbox-9" || msg.Topic != TopicDeadLetterQueue {
			return errors.New("unexpected key or topic")
		}
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil, testLogger()), TopicDeadLetterQueue)
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-9", Payload: []byte(`{}`)}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil, testLogger()), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   domain.EventOrderStatusChanged,
		Payload:     []byte(`{"status":"shipped"}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.ErrorIs(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}), errPublisherNotReady)
}
