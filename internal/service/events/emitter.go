// Package events записывает события заказа в transactional outbox и timeline.
package events

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
)

// AggregateOrder — тип агрегата в outbox для событий заказа.
const AggregateOrder = "order"

// OrderPayload попадает в outbox и далее в Kafka как тело события заказа.
type OrderPayload struct {
	OrderID       string               `json:"order_id"`
	BuyerID       string               `json:"buyer_id"`
	SellerID      string               `json:"seller_id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	TotalMinor    int64                `json:"total_minor"`
	Currency      string               `json:"currency"`
	Reason        string               `json:"reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
}

// Emitter публикует события заказа. Ошибки записи логируются и не прерывают бизнес-операцию:
// состояние заказа уже сохранено к моменту эмиссии.
type Emitter struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

func NewEmitter(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.OrderMetrics, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.New().WithField("component", "events")
	}
	return &Emitter{
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Emit пишет событие в outbox и добавляет запись в timeline заказа.
func (e *Emitter) Emit(ctx context.Context, order domain.Order, eventType, reason string, metadata map[string]any) {
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = e.now()
	}

	payload := OrderPayload{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalMinor:    order.TotalMinor,
		Currency:      order.Currency,
		Reason:        reason,
		OccurredAt:    occurred,
		Metadata:      metadata,
	}
	e.enqueue(ctx, order.ID, eventType, payload)
	e.Timeline(ctx, order.ID, eventType, reason, occurred)
}

// Timeline добавляет запись только в timeline, без публикации наружу.
func (e *Emitter) Timeline(ctx context.Context, orderID, eventType, reason string, occurred time.Time) {
	if e.timeline == nil {
		return
	}
	if occurred.IsZero() {
		occurred = e.now()
	}
	err := e.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
		return
	}
	e.metrics.RecordTimelineEvent()
}

func (e *Emitter) enqueue(ctx context.Context, aggregateID, eventType string, payload any) {
	if e.outbox == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": aggregateID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	_, err = e.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": aggregateID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	e.metrics.RecordOutboxEvent()
}
