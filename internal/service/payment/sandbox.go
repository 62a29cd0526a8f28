package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// SandboxProvider хранит намерения в памяти процесса для локального запуска и тестов.
// События подписываются той же схемой, что и у Stripe, поэтому webhook-обработчик
// проверяется без внешней сети.
type SandboxProvider struct {
	mu            sync.Mutex
	intents       map[string]domain.PaymentIntent
	byIdempotency map[string]string
	webhookSecret string

	failNext    error
	unavailable bool

	CreateCalls   int
	RetrieveCalls int
}

// NewSandboxProvider создаёт провайдера с заданным секретом подписи событий.
func NewSandboxProvider(webhookSecret string) *SandboxProvider {
	if webhookSecret == "" {
		webhookSecret = "whsec_sandbox"
	}
	return &SandboxProvider{
		intents:       make(map[string]domain.PaymentIntent),
		byIdempotency: make(map[string]string),
		webhookSecret: webhookSecret,
	}
}

// FailNext заставляет следующий вызов API вернуть err.
func (p *SandboxProvider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// SetUnavailable переводит провайдера в режим отказа: все вызовы API возвращают
// ErrPaymentProviderUnavailable, пока режим не снят.
func (p *SandboxProvider) SetUnavailable(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = down
}

func (p *SandboxProvider) injectedErr() error {
	if p.unavailable {
		return fmt.Errorf("sandbox: %w", domain.ErrPaymentProviderUnavailable)
	}
	if err := p.failNext; err != nil {
		p.failNext = nil
		return err
	}
	return nil
}

func (p *SandboxProvider) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.CreateCalls++
	if err := p.injectedErr(); err != nil {
		return domain.PaymentIntent{}, err
	}
	if req.AmountMinor <= 0 {
		return domain.PaymentIntent{}, fmt.Errorf("sandbox: amount must be positive: %w", domain.ErrInvalidArgument)
	}
	if req.IdempotencyKey != "" {
		if id, ok := p.byIdempotency[req.IdempotencyKey]; ok {
			return cloneIntent(p.intents[id]), nil
		}
	}

	id := "pi_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	intent := domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       domain.IntentStatusRequiresPaymentMethod,
		AmountMinor:  req.AmountMinor,
		Currency:     strings.ToLower(req.Currency),
		Metadata:     metadata,
	}
	p.intents[id] = intent
	if req.IdempotencyKey != "" {
		p.byIdempotency[req.IdempotencyKey] = id
	}
	return cloneIntent(intent), nil
}

func (p *SandboxProvider) RetrieveIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.RetrieveCalls++
	if err := p.injectedErr(); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent, ok := p.intents[intentID]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrPaymentIntentNotFound
	}
	return cloneIntent(intent), nil
}

// Succeed отмечает намерение оплаченным и возвращает подписанное событие payment_intent.succeeded.
func (p *SandboxProvider) Succeed(intentID string) (payload []byte, signature string, err error) {
	return p.settle(intentID, true)
}

// Fail отмечает намерение отклонённым и возвращает подписанное событие payment_intent.payment_failed.
func (p *SandboxProvider) Fail(intentID string) (payload []byte, signature string, err error) {
	return p.settle(intentID, false)
}

func (p *SandboxProvider) settle(intentID string, succeeded bool) ([]byte, string, error) {
	p.mu.Lock()
	intent, ok := p.intents[intentID]
	if !ok {
		p.mu.Unlock()
		return nil, "", domain.ErrPaymentIntentNotFound
	}

	eventType := stripeEventIntentFailed
	if succeeded {
		eventType = stripeEventIntentSucceeded
		intent.Status = domain.IntentStatusSucceeded
		intent.AmountReceivedMinor = intent.AmountMinor
		if intent.LatestChargeID == "" {
			intent.LatestChargeID = "ch_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	} else {
		intent.Status = domain.IntentStatusRequiresPaymentMethod
	}
	p.intents[intentID] = intent
	p.mu.Unlock()

	payload, err := p.eventPayload(eventType, intent)
	if err != nil {
		return nil, "", err
	}
	payload, signature := p.Sign(payload)
	return payload, signature, nil
}

// Sign подписывает произвольный payload схемой Stripe-Signature.
func (p *SandboxProvider) Sign(payload []byte) ([]byte, string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    p.webhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

// EventPayload собирает JSON события Stripe с намерением внутри. Используется, чтобы
// воспроизводить произвольные события (например, повторную доставку).
func (p *SandboxProvider) EventPayload(eventType string, intent domain.PaymentIntent) ([]byte, error) {
	return p.eventPayload(eventType, intent)
}

func (p *SandboxProvider) eventPayload(eventType string, intent domain.PaymentIntent) ([]byte, error) {
	object := map[string]any{
		"id":              intent.ID,
		"object":          "payment_intent",
		"amount":          intent.AmountMinor,
		"amount_received": intent.AmountReceivedMinor,
		"currency":        intent.Currency,
		"status":          string(intent.Status),
		"client_secret":   intent.ClientSecret,
		"metadata":        intent.Metadata,
	}
	if intent.LatestChargeID != "" {
		object["latest_charge"] = intent.LatestChargeID
	}

	event := map[string]any{
		"id":          "evt_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox event: %w", err)
	}
	return data, nil
}

func (p *SandboxProvider) ParseEvent(payload []byte, signature string) (domain.PaymentEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, p.webhookSecret); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode sandbox event: %w", err)
	}
	return eventFromStripe(event)
}

func cloneIntent(src domain.PaymentIntent) domain.PaymentIntent {
	dst := src
	if src.Metadata != nil {
		dst.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	return dst
}

var _ domain.PaymentProvider = (*SandboxProvider)(nil)
