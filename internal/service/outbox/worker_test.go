package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/memory"
)

func enqueue(t *testing.T, repo domain.OutboxRepository, id, eventType string) {
	t.Helper()
	_, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     eventType,
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	require.NoError(t, err)
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "msg-1", domain.EventOrderStatusChanged)
	enqueue(t, repo, "msg-2", domain.EventPaymentCompleted)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithMetrics(metrics.NewWorkerMetrics(prometheus.NewRegistry())),
	)

	require.Equal(t, 2, worker.ProcessOnce(context.Background()))
	require.Equal(t, 2, publisher.calls())
	require.Equal(t, []string{"msg-1", "msg-2"}, publisher.ids())
	require.Empty(t, repo.AllPending())

	require.Zero(t, worker.ProcessOnce(context.Background()), "sent messages must not be republished")
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "msg-2", domain.EventOrderStatusChanged)
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending(), "failed message must leave pending state")
	require.Equal(t, 1, dlq.calls())

	var envelope DLQEnvelope
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &envelope))
	assert.Equal(t, "msg-2", envelope.OutboxID)
	assert.Equal(t, domain.EventOrderStatusChanged, envelope.EventType)
	assert.JSONEq(t, `{"status":"confirmed"}`, string(envelope.Payload))
	assert.Contains(t, envelope.PublishError, "broker down")
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "msg-3", domain.EventPaymentStatusChanged)
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Millisecond), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())
}

func TestWorker_CancelledPublishStaysPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "msg-4", domain.EventOrderCreated)
	publisher := &stubPublisher{err: errors.New("broker down")}

	ctx, cancel := context.WithCancel(context.Background())
	publisher.onPublish = cancel

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Second), WithMaxAttempts(5))
	worker.ProcessOnce(ctx)

	require.Equal(t, 1, publisher.calls())
	require.Len(t, repo.AllPending(), 1)
}

func TestWorker_BackOffDoublesWithoutJitter(t *testing.T) {
	w := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	b := w.newBackOff()
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())

	for i := 0; i < 20; i++ {
		b.NextBackOff()
	}
	assert.Equal(t, maxRetryDelay, b.NextBackOff(), "delay is capped")

	w = NewWorker(nil, nil, WithRetryBaseDelay(-time.Second))
	b = w.newBackOff()
	b.Reset()
	assert.Zero(t, b.NextBackOff())
}

func TestWorker_OptionsIgnoreInvalidValues(t *testing.T) {
	w := NewWorker(nil, nil, WithPollInterval(0), WithBatchSize(-1), WithMaxAttempts(0), WithLogger(nil))
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultMaxAttempts, w.maxAttempts)
	assert.NotNil(t, w.logger)
}

func TestWorker_ExhaustedErrorWrapsOutboxPublish(t *testing.T) {
	w := NewWorker(nil, &stubPublisher{err: errors.New("leader not available")},
		WithRetryBaseDelay(0), WithMaxAttempts(2))

	err := w.publish(context.Background(), domain.OutboxMessage{ID: "m"})
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestWorker_Run_DrainsAndStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		enqueue(t, repo, id, domain.EventOrderCreated)
	}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithPollInterval(5*time.Millisecond),
		WithBatchSize(2),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(repo.AllPending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	require.Equal(t, 5, publisher.calls())
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	worker := NewWorker(memory.NewOutboxRepository(), nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	onPublish      func()
	callCount      int
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.onPublish != nil {
		s.onPublish()
	}
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, msg)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for _, msg := range s.published {
		out = append(out, msg.ID)
	}
	return out
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)
