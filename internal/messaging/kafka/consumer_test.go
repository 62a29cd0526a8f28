package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.DebugLevel)
	return logger.WithField("component", "kafka-test")
}

func dlqProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return newProducer(mockProducer, nil, testLogger()), mockProducer
}

func TestNewConsumerErrors(t *testing.T) {
	_, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"},
		func(context.Context, *sarama.ConsumerMessage) error { return nil })
	require.Error(t, err)
}

func TestNewConsumerOptions(t *testing.T) {
	producer, _ := dlqProducer(t)
	consumer := newConsumer(&mockConsumerGroup{}, []string{TopicPaymentEvents}, nil,
		WithDLQ(producer),
		WithMaxRetries(5),
		WithRetryDelay(time.Second),
		WithConsumerLogger(testLogger()),
	)
	require.Equal(t, 5, consumer.maxRetries)
	require.Equal(t, time.Second, consumer.retryDelay)
	require.Equal(t, producer, consumer.dlq)

	defaults := newConsumer(&mockConsumerGroup{}, nil, nil, WithMaxRetries(-1))
	require.Equal(t, defaultMaxRetries, defaults.maxRetries)
	require.Equal(t, defaultRetryDelay, defaults.retryDelay)
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			require.Equal(t, []string{TopicPaymentEvents}, topics)
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, []string{TopicPaymentEvents},
		func(context.Context, *sarama.ConsumerMessage) error { return nil },
		WithConsumerLogger(testLogger()))

	errorsCh <- errors.New("background error")
	require.NoError(t, consumer.Start(ctx))
	require.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, consumer.Stop())
	require.Equal(t, 1, consumeCalls)
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newConsumer(group, nil, nil)
	require.Error(t, consumer.Stop())
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 1, Key: []byte("k"), Value: []byte("v")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 2, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Len(t, session.marked, 2)
}

func TestConsumeClaimLeavesFailedMessageUnmarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newConsumer(nil, nil,
		func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		WithMaxRetries(1), WithRetryDelay(0))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Empty(t, session.marked)
}

func TestHandleMessageWithRetry(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic:     TopicPaymentEvents,
		Partition: 1,
		Offset:    42,
		Key:       []byte("key"),
		Value:     []byte(`{"a":1}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte(HeaderSignature), Value: []byte("t=1,v1=abc")}},
	}

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		}, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.Equal(t, 3, attempts)
	})

	t.Run("exhausted without dlq", func(t *testing.T) {
		attempts := 0
		consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("permanent")
		}, WithMaxRetries(2), WithRetryDelay(0))

		require.Error(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.Equal(t, 3, attempts)
	})

	t.Run("exhausted with dlq", func(t *testing.T) {
		producer, mockProducer := dlqProducer(t)
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
			if pm.Topic != TopicDeadLetterQueue {
				return errors.New("unexpected topic " + pm.Topic)
			}
			value, err := pm.Value.Encode()
			if err != nil {
				return err
			}
			var letter DeadLetter
			if err := json.Unmarshal(value, &letter); err != nil {
				return err
			}
			if letter.OriginalTopic != TopicPaymentEvents || letter.OriginalOffset != 42 || letter.Attempts != 2 {
				return errors.New("unexpected dead letter")
			}
			if letter.OriginalSignature != "t=1,v1=abc" {
				return errors.New("unexpected dead letter")
			}
			return nil
		})

		consumer := newConsumer(nil, nil,
			func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			WithDLQ(producer), WithMaxRetries(1), WithRetryDelay(0))

		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("dlq failure", func(t *testing.T) {
		producer, mockProducer := dlqProducer(t)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		consumer := newConsumer(nil, nil,
			func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			WithDLQ(producer), WithMaxRetries(0))

		require.Error(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		}, WithMaxRetries(5), WithRetryDelay(time.Hour))

		require.ErrorIs(t, consumer.handleMessageWithRetry(ctx, msg), context.Canceled)
	})
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
