// Package payment связывает заказы с платёжным провайдером: создаёт намерения оплаты,
// подтверждает их и применяет события провайдера к статусу оплаты заказа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/service/events"
	"github.com/vladislavdragonenkov/farmoms/internal/service/optimistic"
	"github.com/vladislavdragonenkov/farmoms/internal/tracing"
)

// Источники платёжных обновлений (label метрик и поле логов).
const (
	sourceConfirm = "confirm"
	sourceWebhook = "webhook"
	sourceCreate  = "create"
)

// IntentResult — ответ на создание намерения оплаты.
type IntentResult struct {
	OrderID      string
	IntentID     string
	ClientSecret string
	Status       domain.IntentStatus
}

// ConfirmResult — ответ на подтверждение оплаты.
type ConfirmResult struct {
	OrderID       string
	IntentID      string
	IntentStatus  domain.IntentStatus
	PaymentStatus domain.PaymentStatus
}

// Reconciler приводит статус оплаты заказов в соответствие с провайдером.
type Reconciler struct {
	orders   domain.OrderRepository
	updater  *optimistic.Updater
	provider domain.PaymentProvider
	emitter  *events.Emitter
	notifier domain.Notifier
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(
	orders domain.OrderRepository,
	updater *optimistic.Updater,
	provider domain.PaymentProvider,
	emitter *events.Emitter,
	notifier domain.Notifier,
	logger *log.Entry,
	opts ...Option,
) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "payment")
	}
	r := &Reconciler{
		orders:   orders,
		updater:  updater,
		provider: provider,
		emitter:  emitter,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateIntent создаёт намерение оплаты заказа. Повторный вызов для заказа с активным
// намерением возвращает то же намерение.
func (r *Reconciler) CreateIntent(ctx context.Context, orderID string, actor domain.Actor) (result IntentResult, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "payment.CreateIntent",
		attribute.String("order_id", orderID),
		attribute.String("actor_id", actor.ID),
	)
	defer func() {
		r.metrics.ObserveOperation("payment_create_intent", time.Since(start))
		tracing.End(span, err)
	}()

	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	if order.PartyOf(actor) != domain.PartyBuyer {
		return IntentResult{}, domain.ErrNotAuthorized
	}
	if err := checkPayable(order); err != nil {
		return IntentResult{}, err
	}

	logger := r.logger.WithFields(log.Fields{"order_id": order.ID, "actor_id": actor.ID})

	idempotencyKey := "order:" + order.ID
	if order.PaymentIntentID != "" {
		existing, err := r.provider.RetrieveIntent(ctx, order.PaymentIntentID)
		if err != nil {
			return IntentResult{}, fmt.Errorf("retrieve existing intent: %w", err)
		}
		switch existing.Status {
		case domain.IntentStatusCanceled:
			// Отменённое намерение нельзя оплатить: нужен новый ключ идемпотентности.
			idempotencyKey = "order:" + order.ID + ":after:" + existing.ID
		case domain.IntentStatusSucceeded:
			if _, _, err := r.applyPaid(ctx, order.ID, existing, sourceCreate); err != nil {
				return IntentResult{}, err
			}
			return IntentResult{}, domain.ErrAlreadyPaid
		default:
			logger.WithField("intent_id", existing.ID).Debug("returning existing payment intent")
			return intentResult(order.ID, existing), nil
		}
	}

	intent, err := r.provider.CreateIntent(ctx, domain.IntentRequest{
		OrderID:     order.ID,
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
		Metadata: map[string]string{
			domain.IntentMetadataOrderID:  order.ID,
			domain.IntentMetadataBuyerID:  order.BuyerID,
			domain.IntentMetadataSellerID: order.SellerID,
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		logger.WithError(err).Warn("create payment intent failed")
		return IntentResult{}, fmt.Errorf("create payment intent: %w", err)
	}

	saved, changed, err := r.updater.Update(ctx, order.ID, func(o *domain.Order) error {
		if o.PaymentIntentID == intent.ID {
			return optimistic.ErrNoChange
		}
		if err := checkPayable(*o); err != nil {
			return err
		}
		o.AttachIntent(intent.ID, r.now())
		return nil
	})
	if err != nil {
		logger.WithError(err).WithField("intent_id", intent.ID).Error("attach payment intent failed")
		return IntentResult{}, fmt.Errorf("attach payment intent: %w", err)
	}
	if changed {
		r.emitter.Emit(ctx, saved, domain.EventPaymentIntentCreated, "", map[string]any{
			"intent_id": intent.ID,
		})
	}

	logger.WithFields(log.Fields{
		"intent_id":    intent.ID,
		"amount_minor": intent.AmountMinor,
	}).Info("payment intent created")
	return intentResult(order.ID, intent), nil
}

// Confirm запрашивает у провайдера актуальный статус намерения и, если оплата прошла,
// отмечает заказ оплаченным.
func (r *Reconciler) Confirm(ctx context.Context, intentID string, actor domain.Actor) (result ConfirmResult, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "payment.Confirm",
		attribute.String("intent_id", intentID),
		attribute.String("actor_id", actor.ID),
	)
	defer func() {
		r.metrics.ObserveOperation("payment_confirm", time.Since(start))
		tracing.End(span, err)
	}()

	if intentID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: intent id is required", domain.ErrInvalidArgument)
	}
	logger := r.logger.WithFields(log.Fields{"intent_id": intentID, "actor_id": actor.ID})

	order, err := r.orders.GetByPaymentIntent(ctx, intentID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		// Намерение есть у провайдера, но не привязано к заказу: отдаём статус владельцу.
		intent, err := r.provider.RetrieveIntent(ctx, intentID)
		if err != nil {
			return ConfirmResult{}, err
		}
		if intent.Metadata[domain.IntentMetadataBuyerID] != actor.ID {
			return ConfirmResult{}, domain.ErrNotAuthorized
		}
		logger.WithField("intent_status", intent.Status).Warn("payment intent has no order")
		return ConfirmResult{
			OrderID:      intent.Metadata[domain.IntentMetadataOrderID],
			IntentID:     intent.ID,
			IntentStatus: intent.Status,
		}, nil
	case err != nil:
		return ConfirmResult{}, err
	}

	if order.PartyOf(actor) != domain.PartyBuyer {
		return ConfirmResult{}, domain.ErrNotAuthorized
	}

	intent, err := r.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		logger.WithError(err).Warn("retrieve payment intent failed")
		return ConfirmResult{}, fmt.Errorf("retrieve payment intent: %w", err)
	}

	result = ConfirmResult{
		OrderID:       order.ID,
		IntentID:      intent.ID,
		IntentStatus:  intent.Status,
		PaymentStatus: order.PaymentStatus,
	}
	if intent.Status != domain.IntentStatusSucceeded {
		return result, nil
	}

	saved, _, err := r.applyPaid(ctx, order.ID, intent, sourceConfirm)
	if err != nil {
		return ConfirmResult{}, err
	}
	result.PaymentStatus = saved.PaymentStatus
	return result, nil
}

// HandleWebhook проверяет подпись события провайдера и применяет его к заказу.
// Ошибка подписи возвращается как ErrInvalidSignature; событие при этом не обрабатывается.
// Неизвестные типы событий и события без заказа подтверждаются без изменений.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "payment.HandleWebhook")
	eventType := "unverified"
	defer func() {
		r.metrics.RecordWebhookEvent(eventType, err)
		r.metrics.ObserveOperation("payment_webhook", time.Since(start))
		tracing.End(span, err)
	}()

	event, err := r.provider.ParseEvent(payload, signature)
	if err != nil {
		r.logger.WithError(err).Warn("webhook event rejected")
		if errors.Is(err, domain.ErrInvalidSignature) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	eventType = string(event.Type)
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.RawType),
		attribute.String("intent_id", event.Intent.ID),
	)

	logger := r.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.RawType,
		"intent_id":  event.Intent.ID,
	})

	if event.Type == domain.PaymentEventOther {
		logger.Debug("webhook event ignored")
		return nil
	}

	order, err := r.findOrder(ctx, event.Intent)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Warn("webhook event for payment intent without order")
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case domain.PaymentEventSucceeded:
		_, _, err = r.applyPaid(ctx, order.ID, event.Intent, sourceWebhook)
	case domain.PaymentEventFailed:
		err = r.applyFailed(ctx, order.ID, event.Intent)
	}
	if err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("apply webhook event failed")
		return err
	}
	return nil
}

// findOrder ищет заказ только по id намерения. Намерение, не привязанное к заказу,
// не может изменить ни один заказ, даже если в его metadata указан orderId.
func (r *Reconciler) findOrder(ctx context.Context, intent domain.PaymentIntent) (domain.Order, error) {
	if intent.ID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.orders.GetByPaymentIntent(ctx, intent.ID)
}

// applyPaid применяет успешную оплату с проверкой версии. Побочные эффекты (событие,
// уведомление продавца) выполняет только тот вызов, который перевёл заказ в paid.
func (r *Reconciler) applyPaid(ctx context.Context, orderID string, intent domain.PaymentIntent, source string) (domain.Order, domain.PaymentUpdateResult, error) {
	txID := intent.LatestChargeID
	if txID == "" {
		txID = intent.ID
	}
	amount := intent.AmountReceivedMinor
	if amount <= 0 {
		amount = intent.AmountMinor
	}

	var (
		result     domain.PaymentUpdateResult
		existingTx string
		boundTo    string
	)
	saved, _, err := r.updater.Update(ctx, orderID, func(o *domain.Order) error {
		existingTx = o.TransactionID
		boundTo = o.PaymentIntentID
		if o.PaymentIntentID != intent.ID {
			result = domain.PaymentUpdateIgnored
			return optimistic.ErrNoChange
		}
		result = o.MarkPaid(txID, amount, r.now())
		if result != domain.PaymentUpdateApplied {
			return optimistic.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("apply payment: %w", err)
	}
	r.metrics.RecordPaymentUpdate(source, result)

	logger := r.logger.WithFields(log.Fields{
		"order_id":       orderID,
		"intent_id":      intent.ID,
		"transaction_id": txID,
		"source":         source,
	})

	if boundTo != intent.ID {
		logger.WithField("order_intent_id", boundTo).Warn("payment success ignored: intent is not bound to order")
		return saved, result, nil
	}

	switch result {
	case domain.PaymentUpdateApplied:
		r.emitter.Emit(ctx, saved, domain.EventPaymentStatusChanged, "payment succeeded", map[string]any{
			"payment_status": string(saved.PaymentStatus),
			"transaction_id": txID,
			"amount_minor":   amount,
			"source":         source,
		})
		r.notifySeller(ctx, logger, saved)
		logger.Info("order marked as paid")
	case domain.PaymentUpdateConflict:
		r.emitter.Timeline(ctx, orderID, domain.EventPaymentConflict,
			fmt.Sprintf("transaction %s rejected: order already paid by %s", txID, existingTx), time.Time{})
		logger.WithField("existing_transaction_id", existingTx).Warn("payment conflict: order already paid by another transaction")
	case domain.PaymentUpdateIgnored:
		r.emitter.Timeline(ctx, orderID, domain.EventPaymentStatusChanged,
			fmt.Sprintf("succeeded event %s ignored: payment status is %s", txID, saved.PaymentStatus), time.Time{})
		logger.WithField("payment_status", saved.PaymentStatus).Info("payment success ignored for refunded order")
	default:
		logger.Debug("payment already applied")
	}
	return saved, result, nil
}

func (r *Reconciler) applyFailed(ctx context.Context, orderID string, intent domain.PaymentIntent) error {
	var (
		result  domain.PaymentUpdateResult
		boundTo string
	)
	saved, _, err := r.updater.Update(ctx, orderID, func(o *domain.Order) error {
		boundTo = o.PaymentIntentID
		if o.PaymentIntentID != intent.ID {
			result = domain.PaymentUpdateIgnored
			return optimistic.ErrNoChange
		}
		result = o.MarkPaymentFailed(r.now())
		if result != domain.PaymentUpdateApplied {
			return optimistic.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply payment failure: %w", err)
	}
	r.metrics.RecordPaymentUpdate(sourceWebhook, result)

	logger := r.logger.WithFields(log.Fields{"order_id": orderID, "intent_id": intent.ID})
	if boundTo != intent.ID {
		logger.WithField("order_intent_id", boundTo).Warn("payment failure ignored: intent is not bound to order")
		return nil
	}
	if result != domain.PaymentUpdateApplied {
		logger.WithField("payment_status", saved.PaymentStatus).Debug("payment failure not applied")
		return nil
	}
	r.emitter.Emit(ctx, saved, domain.EventPaymentStatusChanged, "payment failed", map[string]any{
		"payment_status": string(saved.PaymentStatus),
		"source":         sourceWebhook,
	})
	logger.Info("order payment failed")
	return nil
}

// notifySeller отправляет продавцу уведомление об оплате. Ошибка только логируется.
func (r *Reconciler) notifySeller(ctx context.Context, logger *log.Entry, order domain.Order) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Notify(context.WithoutCancel(ctx), domain.Notification{
		RecipientID: order.SellerID,
		Type:        domain.NotificationOrderPaymentCompleted,
		OrderID:     order.ID,
		Payload: map[string]any{
			"buyer_id":       order.BuyerID,
			"total_minor":    order.TotalMinor,
			"currency":       order.Currency,
			"transaction_id": order.TransactionID,
		},
	})
	if err != nil {
		logger.WithError(err).Warn("notify seller about payment failed")
	}
}

func checkPayable(order domain.Order) error {
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return domain.ErrOrderNotPayable
	case order.PaymentStatus == domain.PaymentStatusRefunded:
		return domain.ErrOrderNotPayable
	case order.PaymentStatus == domain.PaymentStatusPaid:
		return domain.ErrAlreadyPaid
	}
	return nil
}

func intentResult(orderID string, intent domain.PaymentIntent) IntentResult {
	return IntentResult{
		OrderID:      orderID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}
}
