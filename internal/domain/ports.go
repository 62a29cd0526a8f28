package domain

import (
	"context"
	"time"
)

// Catalog — источник записей о товарах. Только чтение.
type Catalog interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// InventoryLedger — складской учёт остатков.
// Reserve выполняется одним атомарным условным списанием, поэтому параллельные резервы
// не могут увести остаток в минус.
type InventoryLedger interface {
	// Reserve списывает qty, если товар доступен и остатка хватает.
	// Ошибки: ErrProductNotFound, ErrProductUnavailable, ErrInsufficientStock, ErrInvalidQuantity.
	Reserve(ctx context.Context, productID string, qty int32) error
	// Release возвращает qty на склад. Идемпотентность обеспечивает вызывающий.
	Release(ctx context.Context, productID string, qty int32) error
	// Available возвращает текущий остаток.
	Available(ctx context.Context, productID string) (int32, error)
}

// PaymentProvider — внешний платёжный провайдер.
type PaymentProvider interface {
	// CreateIntent создаёт намерение оплаты на указанную сумму.
	CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error)
	// RetrieveIntent запрашивает актуальное состояние намерения.
	RetrieveIntent(ctx context.Context, intentID string) (PaymentIntent, error)
	// ParseEvent проверяет подпись и разбирает событие. При неверной подписи возвращает ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (PaymentEvent, error)
}

// Notification — уведомление пользователя.
type Notification struct {
	RecipientID string
	Type        string
	OrderID     string
	Payload     map[string]any
}

// Notification types.
const (
	NotificationOrderPaymentCompleted = "order_payment_completed"
)

// Notifier доставляет уведомления. Вызов не должен влиять на исход бизнес-операции.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStatus — состояние сообщения outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed — публикация не удалась после всех попыток; сообщение ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
