package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// StripeConfig — параметры подключения к Stripe.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// HTTPTimeout ограничивает каждый HTTP-запрос к API.
	HTTPTimeout time.Duration
}

// StripeProvider реализует PaymentProvider поверх stripe-go.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	logger        *log.Entry
}

// NewStripeProvider создаёт клиента Stripe с ограниченным по времени HTTP-клиентом.
// Встроенные повторы stripe-go отключены: повторы и отказоустойчивость обеспечивает Guarded.
func NewStripeProvider(cfg StripeConfig, logger *log.Entry) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", domain.ErrInvalidArgument)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", domain.ErrInvalidArgument)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New().WithField("component", "stripe")
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeProvider{api: api, webhookSecret: cfg.WebhookSecret, logger: logger}, nil
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return domain.PaymentIntent{}, mapStripeError("create payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return domain.PaymentIntent{}, mapStripeError("retrieve payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return eventFromStripe(event)
}

// mapStripeError отделяет временные сбои (сеть, 5xx, 429) от ошибок запроса.
func mapStripeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrPaymentProviderUnavailable, err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrPaymentProviderUnavailable, err)
	}

	switch {
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrPaymentProviderUnavailable, stripeErr.Msg)
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%s: %w", op, domain.ErrPaymentIntentNotFound)
	default:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrInvalidArgument, stripeErr.Msg)
	}
}

var _ domain.PaymentProvider = (*StripeProvider)(nil)
