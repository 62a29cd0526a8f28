package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/service/payment"
)

// initPaymentProvider создаёт провайдера по конфигурации и оборачивает его
// таймаутом и circuit breaker.
func initPaymentProvider(cfg Config, m *metrics.OrderMetrics, logger *log.Entry) (*payment.Guarded, error) {
	var inner domain.PaymentProvider
	switch cfg.PaymentProvider {
	case PaymentProviderSandbox:
		inner = payment.NewSandboxProvider(cfg.SandboxWebhookSecret)
		logger.Warn("using sandbox payment provider")
	case PaymentProviderStripe:
		stripe, err := payment.NewStripeProvider(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			HTTPTimeout:   cfg.PaymentTimeout,
		}, logger.WithField("component", "stripe"))
		if err != nil {
			return nil, err
		}
		inner = stripe
		logger.Info("using stripe payment provider")
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}

	breaker := payment.DefaultBreakerConfig()
	breaker.Name = cfg.PaymentProvider
	breaker.FailureRatio = cfg.BreakerFailureRatio
	breaker.MinRequests = cfg.BreakerMinRequests
	breaker.OpenTimeout = cfg.BreakerOpenTimeout

	return payment.NewGuarded(inner, cfg.PaymentTimeout, breaker, m, logger.WithField("component", "payment-guard")), nil
}
