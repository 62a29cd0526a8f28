package domain

import (
	"fmt"
	"strings"
	"time"
)

// Типы событий заказа. Используются и в timeline, и как event_type в outbox.
const (
	EventOrderCreated         = "OrderCreated"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentIntentCreated = "PaymentIntentCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
	EventPaymentCompleted     = "PaymentCompleted"
	EventPaymentConflict      = "PaymentConflict"
	EventStockReleaseFailed   = "StockReleaseFailed"
)

// MaxTimelineReasonLength ограничивает длину причины; длинные причины обрезаются.
const MaxTimelineReasonLength = 512

// TimelineEvent — запись истории заказа, которую видят покупатель и продавец.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize проверяет событие перед записью: заказ и тип обязательны,
// пустое время заменяется на now, причина обрезается по MaxTimelineReasonLength.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.Type = strings.TrimSpace(e.Type)
	if e.OrderID == "" || e.Type == "" {
		return TimelineEvent{}, fmt.Errorf("%w: timeline event needs order id and type", ErrInvalidArgument)
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	if r := []rune(e.Reason); len(r) > MaxTimelineReasonLength {
		e.Reason = string(r[:MaxTimelineReasonLength])
	}
	return e, nil
}
