// Package grpcsvc реализует gRPC API farmoms.v1.OrderService поверх сервисов заказов.
package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/service/checkout"
	"github.com/vladislavdragonenkov/farmoms/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/farmoms/internal/service/payment"
	"github.com/vladislavdragonenkov/farmoms/internal/service/stats"
)

// Services собирает зависимости OrderService.
type Services struct {
	Checkout    *checkout.Service
	Lifecycle   *lifecycle.Service
	Payments    *payment.Reconciler
	Stats       *stats.Service
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
}

// OrderService реализует OrderServiceServer.
type OrderService struct {
	checkout  *checkout.Service
	lifecycle *lifecycle.Service
	payments  *payment.Reconciler
	stats     *stats.Service
	timeline  domain.TimelineRepository
	idemRepo  domain.IdempotencyRepository
	logger    *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(deps Services, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		checkout:  deps.Checkout,
		lifecycle: deps.Lifecycle,
		payments:  deps.Payments,
		stats:     deps.Stats,
		timeline:  deps.Timeline,
		idemRepo:  deps.Idempotency,
		logger:    logger,
	}
}

var _ OrderServiceServer = (*OrderService)(nil)

// Checkout оформляет корзину текущего покупателя.
func (s *OrderService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return withIdempotency(s, ctx, actor, methodCheckout, req, func(ctx context.Context) (*CheckoutResponse, error) {
		items := make([]domain.CartLineItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, domain.CartLineItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				SellerID:  item.SellerID,
			})
		}

		orders, err := s.checkout.Checkout(ctx, checkout.Request{
			BuyerID:         actor.ID,
			Items:           items,
			ShippingAddress: domain.ShippingAddress(req.ShippingAddress),
			PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
			Notes:           req.Notes,
			Currency:        req.Currency,
		})

		var partial *domain.PartialCheckoutError
		if errors.As(err, &partial) && len(orders) > 0 {
			resp := &CheckoutResponse{Orders: toAPIOrders(orders)}
			for _, failure := range partial.Failed {
				resp.FailedSellers = append(resp.FailedSellers, SellerFailure{
					SellerID: failure.SellerID,
					Message:  "order could not be saved",
				})
			}
			s.logger.WithError(err).WithField("buyer_id", actor.ID).Warn("checkout completed partially")
			return resp, nil
		}
		if err != nil {
			return nil, toStatus(s.logger, methodCheckout, err)
		}
		return &CheckoutResponse{Orders: toAPIOrders(orders)}, nil
	})
}

// GetOrder возвращает заказ и его timeline покупателю или продавцу заказа.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.stats.Get(ctx, req.OrderID, actor)
	if err != nil {
		return nil, toStatus(s.logger, methodGetOrder, err)
	}
	return &GetOrderResponse{Order: toAPIOrder(order), Timeline: s.buildTimeline(ctx, order.ID)}, nil
}

// ListOrders возвращает заказы текущего пользователя.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.stats.List(ctx, actor, int(req.Limit))
	if err != nil {
		return nil, toStatus(s.logger, methodListOrders, err)
	}
	return &ListOrdersResponse{Orders: toAPIOrders(orders)}, nil
}

// UpdateOrderStatus переводит заказ в указанный статус.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*OrderResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	return withIdempotency(s, ctx, actor, methodUpdateOrderStatus, req, func(ctx context.Context) (*OrderResponse, error) {
		order, err := s.lifecycle.Transition(ctx, req.OrderID, actor, domain.OrderStatus(strings.ToLower(req.Status)), req.Reason)
		if err != nil {
			return nil, toStatus(s.logger, methodUpdateOrderStatus, err)
		}
		return &OrderResponse{Order: toAPIOrder(order)}, nil
	})
}

// CancelOrder отменяет заказ.
func (s *OrderService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	return withIdempotency(s, ctx, actor, methodCancelOrder, req, func(ctx context.Context) (*OrderResponse, error) {
		order, err := s.lifecycle.Cancel(ctx, req.OrderID, actor, req.Reason)
		if err != nil {
			return nil, toStatus(s.logger, methodCancelOrder, err)
		}
		return &OrderResponse{Order: toAPIOrder(order)}, nil
	})
}

// GetOrderStats возвращает сводку по заказам текущего пользователя.
func (s *OrderService) GetOrderStats(ctx context.Context, _ *GetOrderStatsRequest) (*GetOrderStatsResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.stats.Stats(ctx, actor)
	if err != nil {
		return nil, toStatus(s.logger, methodGetOrderStats, err)
	}
	return toAPIStats(summary), nil
}

// CreatePaymentIntent создаёт намерение оплаты заказа.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, req *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	return withIdempotency(s, ctx, actor, methodCreatePaymentIntent, req, func(ctx context.Context) (*CreatePaymentIntentResponse, error) {
		res, err := s.payments.CreateIntent(ctx, req.OrderID, actor)
		if err != nil {
			return nil, toStatus(s.logger, methodCreatePaymentIntent, err)
		}
		return toAPIIntent(res), nil
	})
}

// ConfirmPayment сверяет статус намерения с провайдером.
func (s *OrderService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.IntentID == "" {
		return nil, status.Error(codes.InvalidArgument, "intent_id is required")
	}
	return withIdempotency(s, ctx, actor, methodConfirmPayment, req, func(ctx context.Context) (*ConfirmPaymentResponse, error) {
		res, err := s.payments.Confirm(ctx, req.IntentID, actor)
		if err != nil {
			return nil, toStatus(s.logger, methodConfirmPayment, err)
		}
		return toAPIConfirm(res), nil
	})
}

func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

func (s *OrderService) buildTimeline(ctx context.Context, orderID string) []TimelineEvent {
	if s.timeline == nil {
		return nil
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	return toAPITimeline(events)
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = domain.DefaultIdempotencyTTL
	idempotencyStoreWait = 5 * time.Second
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Повтор с тем же ключом и телом получает сохранённый ответ или сохранённую ошибку.
// Ключ действует в пределах пользователя.
func withIdempotency[Req any, Resp any](
	s *OrderService,
	ctx context.Context,
	actor domain.Actor,
	method string,
	req *Req,
	handler func(context.Context) (*Resp, error),
) (*Resp, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	if key, err = domain.ScopeIdempotencyKey(actor.ID, key); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	logger := s.logger.WithFields(log.Fields{"idempotency_key": key, "method": method})

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		logger.WithError(err).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency[Resp](logger, err, record)
	}

	resp, runErr := handler(ctx)

	// Результат сохраняется даже если клиент уже отключился.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyStoreWait)
	defer cancel()

	if runErr != nil {
		s.cacheIdempotencyFailure(storeCtx, logger, key, runErr)
		return nil, runErr
	}
	data, err := json.Marshal(resp)
	if err == nil {
		err = s.idemRepo.MarkDone(storeCtx, key, data, int(codes.OK))
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replayIdempotency[Resp any](logger *log.Entry, createErr error, record domain.IdempotencyRecord) (*Resp, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(Resp)
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				logger.WithError(err).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			logger.Debug("idempotent response replayed")
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		return nil, status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderService) cacheIdempotencyFailure(ctx context.Context, logger *log.Entry, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	// Для временных отказов сохраняется только код, текст ошибки не кэшируется.
	if code == codes.Unavailable || code == codes.Aborted || code == codes.DeadlineExceeded || code == codes.Canceled {
		if err := s.idemRepo.MarkFailed(ctx, key, nil, int(code)); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
		return
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to encode idempotency failure payload")
		payload = nil
	}
	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		logger.WithError(err).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int(payload.Code)); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}
	if code, ok := grpcCode(record.StatusCode); ok && code != codes.OK {
		return status.Error(code, "previous request with the same idempotency key failed")
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // value is range-checked above.
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
