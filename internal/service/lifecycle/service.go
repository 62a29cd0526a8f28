// Package lifecycle проводит заказ по графу статусов от имени покупателя или продавца.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/service/events"
	"github.com/vladislavdragonenkov/farmoms/internal/service/optimistic"
	"github.com/vladislavdragonenkov/farmoms/internal/tracing"
)

const (
	defaultReleaseAttempts = 5
	defaultReleaseDelay    = 50 * time.Millisecond
	maxReleaseDelay        = 2 * time.Second
)

// Service применяет переходы статусов и их побочные эффекты.
type Service struct {
	updater *optimistic.Updater
	ledger  domain.InventoryLedger
	emitter *events.Emitter
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	now     func() time.Time

	releaseAttempts int
	releaseDelay    time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithReleaseRetry задаёт число попыток возврата одной позиции на склад и паузу перед
// второй попыткой. Пауза удваивается с каждой попыткой.
func WithReleaseRetry(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.releaseAttempts = attempts
		}
		if delay > 0 {
			s.releaseDelay = delay
		}
	}
}

func NewService(
	updater *optimistic.Updater,
	ledger domain.InventoryLedger,
	emitter *events.Emitter,
	m *metrics.OrderMetrics,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	s := &Service{
		updater:         updater,
		ledger:          ledger,
		emitter:         emitter,
		metrics:         m,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		releaseAttempts: defaultReleaseAttempts,
		releaseDelay:    defaultReleaseDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition переводит заказ в target.
//
// Изменение сохраняется с проверкой версии; при конфликте заказ перечитывается и переход
// проверяется заново на свежем состоянии. Возврат остатков выполняет только тот вызов,
// чьё сохранение перевело заказ в cancelled, поэтому при гонке отмен склад пополняется один раз.
func (s *Service) Transition(ctx context.Context, orderID string, actor domain.Actor, target domain.OrderStatus, reason string) (saved domain.Order, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "lifecycle.Transition",
		attribute.String("order_id", orderID),
		attribute.String("actor_id", actor.ID),
		attribute.String("target", string(target)),
	)
	var effect domain.TransitionEffect
	defer func() {
		from := effect.From
		if from == "" {
			from = saved.Status
		}
		s.metrics.RecordTransition(from, target, err)
		s.metrics.ObserveOperation("transition", time.Since(start))
		tracing.End(span, err)
	}()

	if !target.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, target)
	}

	saved, _, err = s.updater.Update(ctx, orderID, func(order *domain.Order) error {
		e, err := order.Transition(actor, target, s.now())
		if err != nil {
			return err
		}
		effect = e
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"actor_id": actor.ID,
			"target":   target,
		}).Debug("transition rejected")
		return saved, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id": saved.ID,
		"actor_id": actor.ID,
		"from":     effect.From,
		"to":       effect.To,
	})

	if effect.ReleaseStock {
		s.releaseStock(ctx, logger, saved)
	}

	s.emitter.Emit(ctx, saved, domain.EventOrderStatusChanged, reason, map[string]any{
		"from":  string(effect.From),
		"to":    string(effect.To),
		"actor": saved.PartyOf(actor).String(),
	})
	logger.Info("order status changed")
	return saved, nil
}

// Cancel отменяет заказ. Покупатель может отменить только неподтверждённый заказ,
// а продавец может отменить заказ до отправки.
func (s *Service) Cancel(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error) {
	return s.Transition(ctx, orderID, actor, domain.OrderStatusCancelled, reason)
}

// releaseStock возвращает позиции отменённого заказа на склад. Временные ошибки склада
// повторяются с экспоненциальной паузой. Если позицию вернуть так и не удалось, отмена
// остаётся в силе, а в outbox уходит StockReleaseFailed с товаром и количеством для
// повторного возврата.
func (s *Service) releaseStock(ctx context.Context, logger *log.Entry, order domain.Order) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range order.Items {
		err := s.releaseItem(ctx, item)
		if err == nil {
			continue
		}
		logger.WithError(err).WithFields(log.Fields{
			"product_id": item.ProductID,
			"qty":        item.Qty,
		}).Error("release stock for cancelled order failed")
		s.emitter.Emit(ctx, order, domain.EventStockReleaseFailed,
			fmt.Sprintf("product %s qty %d: %v", item.ProductID, item.Qty, err),
			map[string]any{
				"product_id": item.ProductID,
				"qty":        item.Qty,
				"error":      err.Error(),
			})
	}
}

func (s *Service) releaseItem(ctx context.Context, item domain.OrderItem) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.releaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max(maxReleaseDelay, s.releaseDelay)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.ledger.Release(ctx, item.ProductID, item.Qty)
		s.metrics.RecordStockRelease(err)
		if err != nil && !retryableRelease(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.releaseAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}

// retryableRelease отделяет сбои склада от ошибок, которые повтор не исправит.
func retryableRelease(err error) bool {
	return !errors.Is(err, domain.ErrProductNotFound) &&
		!errors.Is(err, domain.ErrInvalidQuantity) &&
		!errors.Is(err, domain.ErrInvalidArgument)
}
