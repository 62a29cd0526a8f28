package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// OrderMetrics содержит метрики оформления и жизненного цикла заказов.
// Все методы безопасны для nil-получателя, поэтому сервисы в тестах работают без метрик.
type OrderMetrics struct {
	checkouts        *prometheus.CounterVec
	checkoutFailures *prometheus.CounterVec
	ordersCreated    prometheus.Counter
	reservations     *prometheus.CounterVec
	stockReleases    *prometheus.CounterVec

	transitions      *prometheus.CounterVec
	versionConflicts prometheus.Counter

	paymentUpdates *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec

	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в глобальном registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registry.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_checkouts_total",
			Help: "Total number of checkout attempts by result",
		}, []string{"result"})),
		checkoutFailures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_checkout_failures_total",
			Help: "Total number of failed checkouts by reason",
		}, []string{"reason"})),
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmoms_orders_created_total",
			Help: "Total number of orders created by checkout",
		})),
		reservations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_stock_reservations_total",
			Help: "Total number of stock reservation attempts by result",
		}, []string{"result"})),
		stockReleases: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_stock_releases_total",
			Help: "Total number of stock releases by result",
		}, []string{"result"})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_order_transitions_total",
			Help: "Total number of order status transition attempts",
		}, []string{"from", "to", "result"})),
		versionConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmoms_order_version_conflicts_total",
			Help: "Total number of optimistic lock conflicts that caused a retry",
		})),
		paymentUpdates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_payment_updates_total",
			Help: "Total number of payment status updates by kind and result",
		}, []string{"kind", "result"})),
		webhookEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmoms_payment_webhook_events_total",
			Help: "Total number of payment provider events by type and result",
		}, []string{"type", "result"})),
		breakerState: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmoms_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmoms_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmoms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmoms_outbox_events_enqueued_total",
			Help: "Total number of events enqueued to the outbox",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// Reason сворачивает ошибку в короткую метку с ограниченной кардинальностью.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_argument"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrPersistenceConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPaymentProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "internal"
	}
}

// RecordCheckout учитывает результат оформления: completed, partial или failed.
func (m *OrderMetrics) RecordCheckout(result string, err error) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	if err != nil && result == "failed" {
		m.checkoutFailures.WithLabelValues(Reason(err)).Inc()
	}
}

// RecordOrdersCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrdersCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ordersCreated.Add(float64(n))
}

// RecordReservation учитывает попытку резерва остатка.
func (m *OrderMetrics) RecordReservation(err error) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(resultLabel(err)).Inc()
}

// RecordStockRelease учитывает возврат остатка.
func (m *OrderMetrics) RecordStockRelease(err error) {
	if m == nil {
		return
	}
	m.stockReleases.WithLabelValues(resultLabel(err)).Inc()
}

// RecordTransition учитывает попытку смены статуса.
func (m *OrderMetrics) RecordTransition(from, to domain.OrderStatus, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), resultLabel(err)).Inc()
}

// RecordVersionConflict увеличивает счётчик конфликтов версий.
func (m *OrderMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordPaymentUpdate учитывает применение платёжного события (kind: paid, failed).
func (m *OrderMetrics) RecordPaymentUpdate(kind string, result domain.PaymentUpdateResult) {
	if m == nil {
		return
	}
	m.paymentUpdates.WithLabelValues(kind, string(result)).Inc()
}

// RecordWebhookEvent учитывает входящее событие провайдера.
func (m *OrderMetrics) RecordWebhookEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, resultLabel(err)).Inc()
}

// SetBreakerState публикует состояние circuit breaker.
func (m *OrderMetrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

// ObserveOperation записывает длительность операции.
func (m *OrderMetrics) ObserveOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return Reason(err)
}
