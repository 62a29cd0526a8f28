// Package stats отдаёт заказы и сводную статистику покупателю или продавцу.
package stats

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/tracing"
)

const (
	// DefaultListLimit применяется, если клиент не указал limit.
	DefaultListLimit = 50
	// MaxListLimit ограничивает размер выдачи.
	MaxListLimit = 200
	// DefaultRecentLimit — количество последних заказов в сводке.
	DefaultRecentLimit = 5
)

var activeStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusShipped,
}

// Summary содержит сводку по заказам пользователя.
type Summary struct {
	// Role указывает роль, в которой посчитана сводка.
	Role        domain.Role
	TotalOrders int
	// PendingOrders заполняется для продавца.
	PendingOrders int
	// ActiveOrders заполняется для покупателя: pending, confirmed и shipped.
	ActiveOrders int
	// RevenueMinor — выручка продавца по доставленным заказам.
	RevenueMinor int64
	// SpentMinor — траты покупателя по доставленным заказам.
	SpentMinor   int64
	RecentOrders []domain.Order
}

// Service читает заказы из OrderRepository и ничего не изменяет.
type Service struct {
	orders domain.OrderRepository
	logger *log.Entry
	recent int
}

func NewService(orders domain.OrderRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "stats")
	}
	return &Service{orders: orders, logger: logger, recent: DefaultRecentLimit}
}

// List возвращает заказы пользователя, новые первыми. Продавец видит заказы, где он продавец,
// остальные роли видят свои покупки.
func (s *Service) List(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error) {
	if actor.ID == "" {
		return nil, domain.ErrUnauthenticated
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	filter := scope(actor)
	filter.Limit = limit
	return s.orders.List(ctx, filter)
}

// Get возвращает заказ, если actor является его покупателем или продавцом.
func (s *Service) Get(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	if actor.ID == "" {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PartyOf(actor) == domain.PartyNone {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"actor_id": actor.ID,
		}).Debug("order access denied")
		return domain.Order{}, domain.ErrNotAuthorized
	}
	return order, nil
}

// Stats считает сводку для покупателя или продавца.
func (s *Service) Stats(ctx context.Context, actor domain.Actor) (summary Summary, err error) {
	ctx, span := tracing.Start(ctx, "stats.Stats", attribute.String("actor_id", actor.ID))
	defer func() { tracing.End(span, err) }()

	if actor.ID == "" {
		return Summary{}, domain.ErrUnauthenticated
	}

	base := scope(actor)
	summary.Role = domain.RoleBuyer
	if base.SellerID != "" {
		summary.Role = domain.RoleSeller
	}

	if summary.TotalOrders, err = s.orders.Count(ctx, base); err != nil {
		return Summary{}, err
	}

	delivered := base
	delivered.Statuses = []domain.OrderStatus{domain.OrderStatusDelivered}
	sum, err := s.orders.SumTotal(ctx, delivered)
	if err != nil {
		return Summary{}, err
	}

	if summary.Role == domain.RoleSeller {
		pending := base
		pending.Statuses = []domain.OrderStatus{domain.OrderStatusPending}
		if summary.PendingOrders, err = s.orders.Count(ctx, pending); err != nil {
			return Summary{}, err
		}
		summary.RevenueMinor = sum
	} else {
		active := base
		active.Statuses = activeStatuses
		if summary.ActiveOrders, err = s.orders.Count(ctx, active); err != nil {
			return Summary{}, err
		}
		summary.SpentMinor = sum
	}

	recent := base
	recent.Limit = s.recent
	if summary.RecentOrders, err = s.orders.List(ctx, recent); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func scope(actor domain.Actor) domain.OrderFilter {
	if actor.Role == domain.RoleSeller {
		return domain.OrderFilter{SellerID: actor.ID}
	}
	return domain.OrderFilter{BuyerID: actor.ID}
}
