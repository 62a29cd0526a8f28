// Package optimistic реализует перечитывание и повторное применение изменений заказа
// при конфликте версий.
package optimistic

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Config конфигурация повторов.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// ErrNoChange возвращается мутатором, когда сохранять нечего.
// Update в этом случае возвращает текущий заказ без ошибки и changed=false.
var ErrNoChange = errors.New("no change")

// Mutator применяет изменение к свежей копии заказа. Вызывается заново после каждого конфликта,
// поэтому не должен иметь внешних побочных эффектов.
type Mutator func(order *domain.Order) error

// ConflictObserver получает уведомление о каждом повторе (для метрик).
type ConflictObserver func(orderID string, attempt int)

// Updater перечитывает заказ, применяет Mutator и сохраняет его с проверкой версии.
type Updater struct {
	orders     domain.OrderRepository
	config     Config
	logger     *log.Entry
	onConflict ConflictObserver
}

// NewUpdater создаёт Updater. Нулевые поля config заменяются значениями по умолчанию.
func NewUpdater(orders domain.OrderRepository, config Config, logger *log.Entry) *Updater {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = def.BackoffFactor
	}
	if logger == nil {
		logger = log.New().WithField("component", "optimistic-updater")
	}
	return &Updater{orders: orders, config: config, logger: logger}
}

// OnConflict регистрирует наблюдателя повторов.
func (u *Updater) OnConflict(fn ConflictObserver) {
	u.onConflict = fn
}

// Update возвращает сохранённый заказ (с увеличенной версией) и признак изменения.
// После исчерпания попыток возвращается domain.ErrPersistenceConflict.
func (u *Updater) Update(ctx context.Context, orderID string, mutate Mutator) (domain.Order, bool, error) {
	delay := u.config.InitialDelay

	for attempt := 1; attempt <= u.config.MaxAttempts; attempt++ {
		order, err := u.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}

		if err := mutate(&order); err != nil {
			if errors.Is(err, ErrNoChange) {
				return order, false, nil
			}
			return order, false, err
		}

		err = u.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) {
			return domain.Order{}, false, err
		}

		if u.onConflict != nil {
			u.onConflict(orderID, attempt)
		}
		if attempt == u.config.MaxAttempts {
			break
		}

		u.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
			"delay":    delay,
		}).Debug("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return domain.Order{}, false, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * u.config.BackoffFactor)
		if delay > u.config.MaxDelay {
			delay = u.config.MaxDelay
		}
	}

	u.logger.WithFields(log.Fields{
		"order_id": orderID,
		"attempts": u.config.MaxAttempts,
	}).Warn("giving up after repeated version conflicts")
	return domain.Order{}, false, domain.ErrPersistenceConflict
}
