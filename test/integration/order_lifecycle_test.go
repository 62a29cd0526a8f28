package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/service/checkout"
	"github.com/vladislavdragonenkov/farmoms/internal/service/events"
	grpcsvc "github.com/vladislavdragonenkov/farmoms/internal/service/grpc"
	"github.com/vladislavdragonenkov/farmoms/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/farmoms/internal/service/optimistic"
	"github.com/vladislavdragonenkov/farmoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/farmoms/internal/service/payment"
	"github.com/vladislavdragonenkov/farmoms/internal/service/stats"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/memory"
)

var (
	buyer       = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	honeyFarm   = domain.Actor{ID: "seller-honey", Role: domain.RoleSeller}
	poultryFarm = domain.Actor{ID: "seller-eggs", Role: domain.RoleSeller}
)

// recordingPublisher запоминает опубликованные события; fail включает отказ публикации.
type recordingPublisher struct {
	mu       sync.Mutex
	fail     bool
	messages []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, 0, len(p.messages))
	for _, msg := range p.messages {
		result = append(result, msg.EventType)
	}
	return result
}

// OrderLifecycleTestSuite проверяет сквозной путь заказа: корзина, оплата, доставка и публикация событий.
type OrderLifecycleTestSuite struct {
	suite.Suite
	service   *grpcsvc.OrderService
	payments  *payment.Reconciler
	sandbox   *payment.SandboxProvider
	inventory *memory.Inventory
	worker    *outbox.Worker
	publisher *recordingPublisher
	dlq       *recordingPublisher
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	outboxRepo := memory.NewOutboxRepository()

	s.inventory = memory.NewInventory(
		domain.Product{ID: "honey", SellerID: honeyFarm.ID, SellerName: "Honey Farm", Title: "Wildflower honey", PriceMinor: 1200, Unit: "jar", Quantity: 10, Available: true},
		domain.Product{ID: "eggs", SellerID: poultryFarm.ID, SellerName: "Poultry Farm", Title: "Free range eggs", PriceMinor: 450, Unit: "dozen", Quantity: 20, Available: true},
	)
	s.sandbox = payment.NewSandboxProvider("whsec_integration")

	emitter := events.NewEmitter(outboxRepo, timeline, nil, logger)
	updater := optimistic.NewUpdater(orders, optimistic.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, logger)
	s.payments = payment.NewReconciler(orders, updater, s.sandbox, emitter, events.NewOutboxNotifier(outboxRepo), logger)

	s.service = grpcsvc.NewOrderService(grpcsvc.Services{
		Checkout:    checkout.NewService(s.inventory, s.inventory, orders, emitter, logger),
		Lifecycle:   lifecycle.NewService(updater, s.inventory, emitter, nil, logger),
		Payments:    s.payments,
		Stats:       stats.NewService(orders, logger),
		Timeline:    timeline,
		Idempotency: memory.NewIdempotencyRepository(),
	}, logger)

	s.publisher = &recordingPublisher{}
	s.dlq = &recordingPublisher{}
	s.worker = outbox.NewWorker(outboxRepo, s.publisher,
		outbox.WithLogger(logger),
		outbox.WithDLQPublisher(s.dlq),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(time.Millisecond),
	)
}

// as возвращает контекст вызова от имени actor; key задаёт idempotency-key.
func as(actor domain.Actor, key string) context.Context {
	ctx := domain.WithActor(context.Background(), actor)
	return metadata.NewIncomingContext(ctx, metadata.Pairs("idempotency-key", key))
}

func (s *OrderLifecycleTestSuite) checkout(key, method string, items ...grpcsvc.CartItem) *grpcsvc.CheckoutResponse {
	resp, err := s.service.Checkout(as(buyer, key), &grpcsvc.CheckoutRequest{
		Items: items,
		ShippingAddress: grpcsvc.Address{
			Street: "12 Orchard Lane", City: "Greenfield", State: "MA", ZipCode: "01301", Phone: "+14135550100",
		},
		PaymentMethod: method,
	})
	s.Require().NoError(err)
	return resp
}

func (s *OrderLifecycleTestSuite) orderFor(resp *grpcsvc.CheckoutResponse, sellerID string) grpcsvc.Order {
	for _, order := range resp.Orders {
		if order.SellerID == sellerID {
			return order
		}
	}
	s.FailNow("order for seller not found", sellerID)
	return grpcsvc.Order{}
}

func (s *OrderLifecycleTestSuite) available(productID string) int32 {
	qty, err := s.inventory.Available(context.Background(), productID)
	s.Require().NoError(err)
	return qty
}

func (s *OrderLifecycleTestSuite) drainOutbox() {
	for s.worker.ProcessOnce(context.Background()) > 0 {
	}
}

func (s *OrderLifecycleTestSuite) TestPaidOrderDelivered() {
	resp := s.checkout("checkout-1", "card",
		grpcsvc.CartItem{ProductID: "honey", Quantity: 2},
		grpcsvc.CartItem{ProductID: "eggs", Quantity: 3},
	)
	s.Require().Len(resp.Orders, 2)
	s.Empty(resp.FailedSellers)
	s.Equal(int32(8), s.available("honey"))
	s.Equal(int32(17), s.available("eggs"))

	honey := s.orderFor(resp, honeyFarm.ID)
	s.Equal(int64(2400), honey.TotalMinor)
	s.Equal("pending", honey.Status)

	intent, err := s.service.CreatePaymentIntent(as(buyer, "intent-1"), &grpcsvc.CreatePaymentIntentRequest{OrderID: honey.ID})
	s.Require().NoError(err)
	s.NotEmpty(intent.IntentID)
	s.NotEmpty(intent.ClientSecret)

	payload, signature, err := s.sandbox.Succeed(intent.IntentID)
	s.Require().NoError(err)
	s.Require().NoError(s.payments.HandleWebhook(context.Background(), payload, signature))
	// Повторная доставка вебхука не меняет заказ.
	s.Require().NoError(s.payments.HandleWebhook(context.Background(), payload, signature))

	for _, target := range []string{"confirmed", "shipped", "delivered"} {
		updated, err := s.service.UpdateOrderStatus(as(honeyFarm, "status-"+target), &grpcsvc.UpdateOrderStatusRequest{
			OrderID: honey.ID,
			Status:  target,
		})
		s.Require().NoError(err)
		s.Equal(target, updated.Order.Status)
	}

	got, err := s.service.GetOrder(as(buyer, ""), &grpcsvc.GetOrderRequest{OrderID: honey.ID})
	s.Require().NoError(err)
	s.Equal("delivered", got.Order.Status)
	s.Equal("paid", got.Order.PaymentStatus)
	s.Equal(intent.IntentID, got.Order.PaymentIntentID)
	s.NotNil(got.Order.DeliveredAt)
	s.NotEmpty(got.Timeline)

	sellerStats, err := s.service.GetOrderStats(as(honeyFarm, ""), &grpcsvc.GetOrderStatsRequest{})
	s.Require().NoError(err)
	s.Equal("seller", sellerStats.Role)
	s.Equal(1, sellerStats.TotalOrders)

	s.drainOutbox()
	published := s.publisher.eventTypes()
	s.Equal(2, count(published, domain.EventOrderCreated))
	s.Equal(1, count(published, domain.EventPaymentIntentCreated))
	s.Equal(1, count(published, domain.EventPaymentStatusChanged))
	s.Equal(1, count(published, domain.EventPaymentCompleted))
	s.Equal(3, count(published, domain.EventOrderStatusChanged))
	s.Empty(s.dlq.eventTypes())
}

func (s *OrderLifecycleTestSuite) TestBuyerCancellationReleasesStock() {
	resp := s.checkout("checkout-cancel", "cash_on_delivery", grpcsvc.CartItem{ProductID: "eggs", Quantity: 5})
	order := s.orderFor(resp, poultryFarm.ID)
	s.Equal(int32(15), s.available("eggs"))

	cancelled, err := s.service.CancelOrder(as(buyer, "cancel-1"), &grpcsvc.CancelOrderRequest{OrderID: order.ID, Reason: "changed my mind"})
	s.Require().NoError(err)
	s.Equal("cancelled", cancelled.Order.Status)
	s.Equal(int32(20), s.available("eggs"))

	_, err = s.service.CreatePaymentIntent(as(buyer, "intent-cancelled"), &grpcsvc.CreatePaymentIntentRequest{OrderID: order.ID})
	s.Require().Error(err)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	_, err = s.service.UpdateOrderStatus(as(poultryFarm, "confirm-cancelled"), &grpcsvc.UpdateOrderStatusRequest{OrderID: order.ID, Status: "confirmed"})
	s.Require().Error(err)
}

func (s *OrderLifecycleTestSuite) TestPaymentFailureRecorded() {
	resp := s.checkout("checkout-fail", "card", grpcsvc.CartItem{ProductID: "honey", Quantity: 1})
	order := s.orderFor(resp, honeyFarm.ID)

	intent, err := s.service.CreatePaymentIntent(as(buyer, "intent-fail"), &grpcsvc.CreatePaymentIntentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	payload, signature, err := s.sandbox.Fail(intent.IntentID)
	s.Require().NoError(err)
	s.Require().NoError(s.payments.HandleWebhook(context.Background(), payload, signature))

	got, err := s.service.GetOrder(as(buyer, ""), &grpcsvc.GetOrderRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.Equal("failed", got.Order.PaymentStatus)
	s.Equal("pending", got.Order.Status)

	err = s.payments.HandleWebhook(context.Background(), payload, "t=1,v1=forged")
	s.ErrorIs(err, domain.ErrInvalidSignature)
}

func (s *OrderLifecycleTestSuite) TestCheckoutReplayIsIdempotent() {
	item := grpcsvc.CartItem{ProductID: "honey", Quantity: 4}
	first := s.checkout("checkout-replay", "card", item)
	second := s.checkout("checkout-replay", "card", item)

	s.Require().Len(second.Orders, 1)
	s.Equal(first.Orders[0].ID, second.Orders[0].ID)
	s.Equal(int32(6), s.available("honey"))

	_, err := s.service.Checkout(as(buyer, "checkout-replay"), &grpcsvc.CheckoutRequest{
		Items: []grpcsvc.CartItem{{ProductID: "honey", Quantity: 1}},
		ShippingAddress: grpcsvc.Address{
			Street: "12 Orchard Lane", City: "Greenfield", State: "MA", ZipCode: "01301", Phone: "+14135550100",
		},
	})
	s.Require().Error(err)
}

func (s *OrderLifecycleTestSuite) TestOversellRejected() {
	_, err := s.service.Checkout(as(buyer, "checkout-oversell"), &grpcsvc.CheckoutRequest{
		Items: []grpcsvc.CartItem{{ProductID: "honey", Quantity: 11}},
		ShippingAddress: grpcsvc.Address{
			Street: "12 Orchard Lane", City: "Greenfield", State: "MA", ZipCode: "01301", Phone: "+14135550100",
		},
	})
	s.Require().Error(err)
	s.Equal(int32(10), s.available("honey"))
}

func (s *OrderLifecycleTestSuite) TestUnpublishedEventsGoToDeadLetter() {
	s.publisher.fail = true
	resp := s.checkout("checkout-dlq", "cash_on_delivery", grpcsvc.CartItem{ProductID: "eggs", Quantity: 1})
	order := s.orderFor(resp, poultryFarm.ID)

	s.drainOutbox()

	s.dlq.mu.Lock()
	defer s.dlq.mu.Unlock()
	s.Require().Len(s.dlq.messages, 1)

	var envelope outbox.DLQEnvelope
	s.Require().NoError(json.Unmarshal(s.dlq.messages[0].Payload, &envelope))
	s.Equal(domain.EventOrderCreated, envelope.EventType)
	s.Equal(order.ID, envelope.AggregateID)
	s.Contains(envelope.PublishError, "broker unavailable")
}

func count(values []string, target string) int {
	n := 0
	for _, value := range values {
		if value == target {
			n++
		}
	}
	return n
}

func TestOrderLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite skipped in short mode")
	}
	suite.Run(t, new(OrderLifecycleTestSuite))
}
