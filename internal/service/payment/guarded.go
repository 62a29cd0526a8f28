package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
)

// BreakerConfig настраивает circuit breaker платёжного провайдера.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig возвращает значения по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "payment-provider",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		OpenTimeout:  30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Guarded ограничивает вызовы провайдера по времени и размыкает цепь при серии сбоев.
// Отказ по таймауту, открытый breaker и сетевые ошибки возвращаются как ErrPaymentProviderUnavailable.
type Guarded struct {
	inner   domain.PaymentProvider
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[domain.PaymentIntent]
}

func NewGuarded(inner domain.PaymentProvider, timeout time.Duration, cfg BreakerConfig, m *metrics.OrderMetrics, logger *log.Entry) *Guarded {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerConfig().Name
	}
	if logger == nil {
		logger = log.New().WithField("component", "payment-breaker")
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
			m.SetBreakerState(name, stateToFloat(to))
		},
		// Ответы провайдера об ошибке запроса не говорят о его недоступности.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrPaymentProviderUnavailable)
		},
	}
	m.SetBreakerState(cfg.Name, 0)

	return &Guarded{
		inner:   inner,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[domain.PaymentIntent](settings),
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// State возвращает текущее состояние breaker.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guarded) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.PaymentIntent, error) {
	return g.call(ctx, "create intent", func(ctx context.Context) (domain.PaymentIntent, error) {
		return g.inner.CreateIntent(ctx, req)
	})
}

func (g *Guarded) RetrieveIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	return g.call(ctx, "retrieve intent", func(ctx context.Context) (domain.PaymentIntent, error) {
		return g.inner.RetrieveIntent(ctx, intentID)
	})
}

// ParseEvent выполняется локально и не проходит через breaker.
func (g *Guarded) ParseEvent(payload []byte, signature string) (domain.PaymentEvent, error) {
	return g.inner.ParseEvent(payload, signature)
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) (domain.PaymentIntent, error)) (domain.PaymentIntent, error) {
	intent, err := g.breaker.Execute(func() (domain.PaymentIntent, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		intent, err := fn(callCtx)
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
			return intent, fmt.Errorf("%s timed out: %w", op, domain.ErrPaymentProviderUnavailable)
		}
		return intent, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.PaymentIntent{}, fmt.Errorf("%s: %w: %v", op, domain.ErrPaymentProviderUnavailable, err)
	}
	return intent, err
}

var _ domain.PaymentProvider = (*Guarded)(nil)
