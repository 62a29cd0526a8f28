package domain

import "time"

// IntentStatus — статус платёжного намерения у провайдера.
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

// PaymentIntent — намерение оплаты, созданное у провайдера.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	// AmountReceivedMinor — фактически списанная сумма.
	AmountReceivedMinor int64
	Currency            string
	// LatestChargeID становится TransactionID заказа.
	LatestChargeID string
	Metadata       map[string]string
}

// Metadata keys, которые мы передаём провайдеру вместе с намерением.
const (
	IntentMetadataOrderID  = "orderId"
	IntentMetadataBuyerID  = "buyerId"
	IntentMetadataSellerID = "sellerId"
)

// IntentRequest — параметры создания намерения.
type IntentRequest struct {
	OrderID        string
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentEventType — нормализованный тип события провайдера.
type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "payment_succeeded"
	PaymentEventFailed    PaymentEventType = "payment_failed"
	PaymentEventOther     PaymentEventType = "other"
)

// PaymentEvent — проверенное событие провайдера.
type PaymentEvent struct {
	ID string
	// RawType — тип события в терминах провайдера, нужен для логов.
	RawType string
	Type    PaymentEventType
	Intent  PaymentIntent
}

// PaymentUpdateResult описывает, что произошло с заказом при применении платёжного события.
type PaymentUpdateResult string

const (
	// PaymentUpdateApplied — статус оплаты изменился.
	PaymentUpdateApplied PaymentUpdateResult = "applied"
	// PaymentUpdateDuplicate — событие уже было применено ранее.
	PaymentUpdateDuplicate PaymentUpdateResult = "duplicate"
	// PaymentUpdateConflict — заказ уже оплачен другой транзакцией.
	PaymentUpdateConflict PaymentUpdateResult = "conflict"
	// PaymentUpdateIgnored — событие не может изменить текущий статус оплаты.
	PaymentUpdateIgnored PaymentUpdateResult = "ignored"
)

// MarkPaid применяет успешную оплату. Повторное применение той же транзакции ничего не меняет,
// другая транзакция не перезаписывает первую, возврат не откатывается обратно в paid.
func (o *Order) MarkPaid(transactionID string, amountMinor int64, now time.Time) PaymentUpdateResult {
	switch o.PaymentStatus {
	case PaymentStatusPaid:
		if o.TransactionID == transactionID {
			return PaymentUpdateDuplicate
		}
		return PaymentUpdateConflict
	case PaymentStatusRefunded:
		return PaymentUpdateIgnored
	}

	amount := amountMinor
	o.PaymentStatus = PaymentStatusPaid
	o.TransactionID = transactionID
	o.PaymentAmountMinor = &amount
	o.UpdatedAt = now
	return PaymentUpdateApplied
}

// MarkPaymentFailed фиксирует отказ провайдера. Оплаченный или возвращённый заказ не меняется.
func (o *Order) MarkPaymentFailed(now time.Time) PaymentUpdateResult {
	switch o.PaymentStatus {
	case PaymentStatusPaid, PaymentStatusRefunded:
		return PaymentUpdateIgnored
	case PaymentStatusFailed:
		return PaymentUpdateDuplicate
	}

	o.PaymentStatus = PaymentStatusFailed
	o.UpdatedAt = now
	return PaymentUpdateApplied
}

// AttachIntent привязывает платёжное намерение к заказу.
func (o *Order) AttachIntent(intentID string, now time.Time) {
	o.PaymentIntentID = intentID
	o.PaymentMethod = PaymentMethodCard
	o.UpdatedAt = now
}
