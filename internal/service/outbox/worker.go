// Package outbox переносит события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
	storeTimeout          = 5 * time.Second
	// За один тик воркер вычитывает не больше стольких полных батчей.
	maxBatchesPerTick = 10
)

// Значения label result метрики farmoms_outbox_publish_attempts_total.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQ        = "dlq"
	resultDLQFailed  = "dlq_failed"
)

// Worker публикует pending-сообщения outbox: события заказов и уведомления продавцам.
// Доставка at-least-once: сообщение помечается sent только после подтверждения брокера.
// После maxAttempts неудач сообщение уходит в DLQ и помечается failed.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.WorkerMetrics

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
	now          func() time.Time
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт получателя сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.baseDelay = max(delay, 0) }
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultRetryBaseDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}
	w.logger.WithFields(log.Fields{
		"poll_interval": w.pollInterval,
		"batch_size":    w.batchSize,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for i := 0; i < maxBatchesPerTick && ctx.Err() == nil; i++ {
		if w.ProcessOnce(ctx) < w.batchSize {
			return
		}
	}
}

// ProcessOnce публикует один батч и возвращает число обработанных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	w.observeBacklog(ctx)
	defer w.observeBacklog(ctx)

	pullCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	batch, err := w.repo.PullPending(pullCtx, w.batchSize)
	cancel()
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages failed")
		return 0
	}

	done := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		w.deliver(ctx, msg)
		done++
	}
	return done
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":      msg.ID,
		"event_type":     msg.EventType,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
	})
	// Статус записываем и при остановке воркера, иначе сообщение уйдёт повторно.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	err := w.publish(ctx, msg)
	switch {
	case err == nil:
		if err := w.repo.MarkSent(storeCtx, msg.ID); err != nil {
			logger.WithError(err).Warn("mark outbox message sent failed")
			return
		}
		logger.Debug("outbox message published")
	case ctx.Err() != nil:
		// Остаётся pending до следующего запуска.
		logger.Debug("outbox publish interrupted by shutdown")
	default:
		logger.WithError(err).Error("outbox message exhausted publish attempts")
		w.metrics.RecordPublish(resultFailed)
		if err := w.sendToDLQ(msg, err); err != nil {
			logger.WithError(err).Warn("dead-letter publish failed")
			w.metrics.RecordPublish(resultDLQFailed)
		}
		if err := w.repo.MarkFailed(storeCtx, msg.ID); err != nil {
			logger.WithError(err).Warn("mark outbox message failed failed")
		}
	}
}

// publish делает до maxAttempts попыток с экспоненциальной паузой без джиттера.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := w.publisher.Publish(msg); err != nil {
			w.metrics.RecordPublish(resultRetryError)
			return struct{}{}, err
		}
		w.metrics.RecordPublish(resultSent)
		return struct{}{}, nil
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(uint(w.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %d attempts: %v", domain.ErrOutboxPublish, w.maxAttempts, err)
	}
	return err
}

func (w *Worker) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max(maxRetryDelay, w.baseDelay)
	return b
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	statsCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	stats, err := w.repo.Stats(statsCtx)
	if err != nil {
		w.logger.WithError(err).Warn("outbox backlog stats failed")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}
