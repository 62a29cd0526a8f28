package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// AggregateNotification — тип агрегата в outbox для пользовательских уведомлений.
const AggregateNotification = "notification"

// NotificationPayload — тело уведомления в outbox.
type NotificationPayload struct {
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type"`
	OrderID     string         `json:"order_id"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OutboxNotifier доставляет уведомления через outbox: доставку до получателя выполняет
// outbox worker и внешний потребитель Kafka.
type OutboxNotifier struct {
	outbox domain.OutboxRepository
	// eventType сопоставляет тип уведомления с типом outbox-события.
	eventType map[string]string
}

func NewOutboxNotifier(outbox domain.OutboxRepository) *OutboxNotifier {
	return &OutboxNotifier{
		outbox: outbox,
		eventType: map[string]string{
			domain.NotificationOrderPaymentCompleted: domain.EventPaymentCompleted,
		},
	}
}

func (n *OutboxNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	if notification.RecipientID == "" {
		return fmt.Errorf("notification recipient: %w", domain.ErrInvalidArgument)
	}

	data, err := json.Marshal(NotificationPayload{
		RecipientID: notification.RecipientID,
		Type:        notification.Type,
		OrderID:     notification.OrderID,
		Data:        notification.Payload,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	eventType, ok := n.eventType[notification.Type]
	if !ok {
		eventType = notification.Type
	}
	if _, err := n.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateNotification,
		AggregateID:   notification.OrderID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)
