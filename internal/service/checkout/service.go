// Package checkout оформляет корзину покупателя: резервирует остатки и разбивает корзину
// на отдельные заказы по продавцам.
package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/service/events"
	"github.com/vladislavdragonenkov/farmoms/internal/tracing"
)

// Service оформляет заказы.
type Service struct {
	catalog  domain.Catalog
	ledger   domain.InventoryLedger
	orders   domain.OrderRepository
	emitter  *events.Emitter
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	currency string
	now      func() time.Time
	newID    func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultCurrency задаёт валюту заказов, если клиент её не указал.
func WithDefaultCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = strings.ToLower(currency)
		}
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(
	catalog domain.Catalog,
	ledger domain.InventoryLedger,
	orders domain.OrderRepository,
	emitter *events.Emitter,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	s := &Service{
		catalog:  catalog,
		ledger:   ledger,
		orders:   orders,
		emitter:  emitter,
		logger:   logger,
		currency: domain.DefaultCurrency,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout превращает корзину в заказы, по одному на продавца, в порядке первого появления продавца.
//
// Ошибки валидации и резерва возвращаются до создания заказов, при этом весь уже взятый резерв
// возвращается на склад. Если не удалось сохранить заказ части продавцов, возвращаются успешно
// созданные заказы вместе с *domain.PartialCheckoutError.
func (s *Service) Checkout(ctx context.Context, req Request) (created []domain.Order, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "checkout.Checkout",
		attribute.String("buyer_id", req.BuyerID),
		attribute.Int("cart.items", len(req.Items)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("orders.created", len(created)))
		tracing.End(span, err)
		s.metrics.ObserveOperation("checkout", time.Since(start))
		s.recordOutcome(created, err)
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithField("buyer_id", req.BuyerID)

	if err := s.lookupProducts(ctx, logger, lines); err != nil {
		return nil, err
	}
	if err := s.reserveAll(ctx, logger, lines); err != nil {
		return nil, err
	}

	groups := groupBySeller(lines)
	now := s.now()
	var failures []domain.SellerFailure

	for _, group := range groups {
		order := s.buildOrder(req, group, now)

		if err := s.persist(ctx, order); err != nil {
			logger.WithError(err).WithField("seller_id", group.sellerID).Error("persist order failed, releasing seller reservations")
			s.releaseLines(ctx, logger, group.lines)
			failures = append(failures, domain.SellerFailure{SellerID: group.sellerID, Err: err})
			continue
		}

		s.emitter.Emit(ctx, order, domain.EventOrderCreated, "checkout", map[string]any{
			"items": len(order.Items),
		})
		created = append(created, order)
	}

	if len(failures) > 0 {
		return created, &domain.PartialCheckoutError{Failed: failures}
	}

	logger.WithFields(log.Fields{
		"orders":  len(created),
		"sellers": len(groups),
	}).Info("checkout completed")
	return created, nil
}

func (s *Service) lookupProducts(ctx context.Context, logger *log.Entry, lines []*cartLine) error {
	sellerTotals := make(map[string]int64)
	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.Item.ProductID)
		if err != nil {
			return &domain.LineItemError{Index: line.Index, ProductID: line.Item.ProductID, Err: err}
		}
		if !product.Available {
			return &domain.LineItemError{Index: line.Index, ProductID: product.ID, Err: domain.ErrProductUnavailable}
		}
		if product.Quantity < line.Item.Quantity {
			return &domain.LineItemError{Index: line.Index, ProductID: product.ID, Err: domain.ErrInsufficientStock}
		}
		lineTotal, err := domain.LineTotalMinor(product.PriceMinor, line.Item.Quantity)
		if err != nil {
			return &domain.LineItemError{Index: line.Index, ProductID: product.ID, Err: err}
		}
		if sellerTotals[product.SellerID], err = domain.AddMinor(sellerTotals[product.SellerID], lineTotal); err != nil {
			return &domain.LineItemError{Index: line.Index, ProductID: product.ID, Err: err}
		}
		if line.Item.SellerID != "" && line.Item.SellerID != product.SellerID {
			logger.WithFields(log.Fields{
				"product_id":  product.ID,
				"hint_seller": line.Item.SellerID,
				"seller_id":   product.SellerID,
			}).Warn("client seller hint does not match catalog, using catalog seller")
		}
		line.Product = product
	}
	return nil
}

// reserveAll резервирует позиции в порядке корзины. При первой ошибке возвращает уже взятое.
func (s *Service) reserveAll(ctx context.Context, logger *log.Entry, lines []*cartLine) error {
	for _, line := range lines {
		err := s.ledger.Reserve(ctx, line.Product.ID, line.Item.Quantity)
		s.metrics.RecordReservation(err)
		if err != nil {
			logger.WithError(err).WithField("product_id", line.Product.ID).Warn("reserve failed, rolling back cart reservations")
			s.releaseLines(ctx, logger, lines)
			return &domain.LineItemError{Index: line.Index, ProductID: line.Product.ID, Err: err}
		}
		line.reserved = true
	}
	return nil
}

// releaseLines возвращает на склад только зарезервированные позиции.
// Отмена контекста запроса не должна прерывать возврат остатков.
func (s *Service) releaseLines(ctx context.Context, logger *log.Entry, lines []*cartLine) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range lines {
		if !line.reserved {
			continue
		}
		err := s.ledger.Release(ctx, line.Product.ID, line.Item.Quantity)
		s.metrics.RecordStockRelease(err)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"product_id": line.Product.ID,
				"qty":        line.Item.Quantity,
			}).Error("release reservation failed")
			continue
		}
		line.reserved = false
	}
}

type sellerGroup struct {
	sellerID string
	lines    []*cartLine
}

func groupBySeller(lines []*cartLine) []*sellerGroup {
	var groups []*sellerGroup
	index := make(map[string]*sellerGroup)
	for _, line := range lines {
		sellerID := line.Product.SellerID
		group, ok := index[sellerID]
		if !ok {
			group = &sellerGroup{sellerID: sellerID}
			index[sellerID] = group
			groups = append(groups, group)
		}
		group.lines = append(group.lines, line)
	}
	return groups
}

func (s *Service) buildOrder(req Request, group *sellerGroup, now time.Time) domain.Order {
	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodCashOnDelivery
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.currency
	}

	items := make([]domain.OrderItem, 0, len(group.lines))
	for _, line := range group.lines {
		items = append(items, domain.NewOrderItem(line.Product, line.Item.Quantity))
	}

	order := domain.Order{
		ID:                s.newID(),
		BuyerID:           req.BuyerID,
		SellerID:          group.sellerID,
		Items:             items,
		Status:            domain.OrderStatusPending,
		ShippingAddress:   req.ShippingAddress,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethod:     method,
		Currency:          currency,
		Notes:             req.Notes,
		EstimatedDelivery: now.Add(domain.EstimatedDeliveryWindow),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.RecalculateTotal()
	return order
}

func (s *Service) persist(ctx context.Context, order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return s.orders.Create(ctx, order)
}

func (s *Service) recordOutcome(created []domain.Order, err error) {
	var partial *domain.PartialCheckoutError
	switch {
	case err == nil:
		s.metrics.RecordCheckout("completed", nil)
	case errors.As(err, &partial):
		s.metrics.RecordCheckout("partial", err)
	default:
		s.metrics.RecordCheckout("failed", err)
	}
	s.metrics.RecordOrdersCreated(len(created))
}
