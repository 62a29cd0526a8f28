package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Типы событий Stripe, которые влияют на заказ.
const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
)

// intentFromStripe переводит PaymentIntent Stripe в доменную модель.
func intentFromStripe(pi *stripe.PaymentIntent) domain.PaymentIntent {
	if pi == nil {
		return domain.PaymentIntent{}
	}
	intent := domain.PaymentIntent{
		ID:                  pi.ID,
		ClientSecret:        pi.ClientSecret,
		Status:              domain.IntentStatus(pi.Status),
		AmountMinor:         pi.Amount,
		AmountReceivedMinor: pi.AmountReceived,
		Currency:            string(pi.Currency),
		Metadata:            pi.Metadata,
	}
	if pi.LatestCharge != nil {
		intent.LatestChargeID = pi.LatestCharge.ID
	}
	return intent
}

// eventFromStripe нормализует проверенное событие Stripe.
func eventFromStripe(event stripe.Event) (domain.PaymentEvent, error) {
	result := domain.PaymentEvent{
		ID:      event.ID,
		RawType: string(event.Type),
		Type:    domain.PaymentEventOther,
	}

	switch string(event.Type) {
	case stripeEventIntentSucceeded:
		result.Type = domain.PaymentEventSucceeded
	case stripeEventIntentFailed:
		result.Type = domain.PaymentEventFailed
	default:
		return result, nil
	}

	if event.Data == nil {
		return result, fmt.Errorf("event %s has no data: %w", event.ID, domain.ErrInvalidArgument)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return result, fmt.Errorf("decode payment intent of event %s: %w", event.ID, err)
	}
	result.Intent = intentFromStripe(&pi)
	return result, nil
}
