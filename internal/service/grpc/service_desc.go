package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "farmoms.v1.OrderService"

const (
	methodCheckout            = "Checkout"
	methodGetOrder            = "GetOrder"
	methodListOrders          = "ListOrders"
	methodUpdateOrderStatus   = "UpdateOrderStatus"
	methodCancelOrder         = "CancelOrder"
	methodGetOrderStats       = "GetOrderStats"
	methodCreatePaymentIntent = "CreatePaymentIntent"
	methodConfirmPayment      = "ConfirmPayment"
)

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// OrderServiceServer реализует серверную сторону farmoms.v1.OrderService.
type OrderServiceServer interface {
	Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*OrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderResponse, error)
	GetOrderStats(context.Context, *GetOrderStatsRequest) (*GetOrderStatsResponse, error)
	CreatePaymentIntent(context.Context, *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error)
	ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error)
}

// unaryHandler строит grpc.MethodHandler для метода с запросом Req.
func unaryHandler[Req any, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc описывает сервис для grpc.Server без сгенерированного кода.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodCheckout, Handler: unaryHandler(methodCheckout, OrderServiceServer.Checkout)},
		{MethodName: methodGetOrder, Handler: unaryHandler(methodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: methodListOrders, Handler: unaryHandler(methodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: methodUpdateOrderStatus, Handler: unaryHandler(methodUpdateOrderStatus, OrderServiceServer.UpdateOrderStatus)},
		{MethodName: methodCancelOrder, Handler: unaryHandler(methodCancelOrder, OrderServiceServer.CancelOrder)},
		{MethodName: methodGetOrderStats, Handler: unaryHandler(methodGetOrderStats, OrderServiceServer.GetOrderStats)},
		{MethodName: methodCreatePaymentIntent, Handler: unaryHandler(methodCreatePaymentIntent, OrderServiceServer.CreatePaymentIntent)},
		{MethodName: methodConfirmPayment, Handler: unaryHandler(methodConfirmPayment, OrderServiceServer.ConfirmPayment)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "farmoms/v1/order_service",
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient вызывает farmoms.v1.OrderService. Подключение должно использовать WithJSONCodec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func invoke[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutRequest, CheckoutResponse](ctx, c.cc, methodCheckout, in, opts...)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderRequest, GetOrderResponse](ctx, c.cc, methodGetOrder, in, opts...)
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersRequest, ListOrdersResponse](ctx, c.cc, methodListOrders, in, opts...)
}

func (c *OrderServiceClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[UpdateOrderStatusRequest, OrderResponse](ctx, c.cc, methodUpdateOrderStatus, in, opts...)
}

func (c *OrderServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[CancelOrderRequest, OrderResponse](ctx, c.cc, methodCancelOrder, in, opts...)
}

func (c *OrderServiceClient) GetOrderStats(ctx context.Context, in *GetOrderStatsRequest, opts ...grpc.CallOption) (*GetOrderStatsResponse, error) {
	return invoke[GetOrderStatsRequest, GetOrderStatsResponse](ctx, c.cc, methodGetOrderStats, in, opts...)
}

func (c *OrderServiceClient) CreatePaymentIntent(ctx context.Context, in *CreatePaymentIntentRequest, opts ...grpc.CallOption) (*CreatePaymentIntentResponse, error) {
	return invoke[CreatePaymentIntentRequest, CreatePaymentIntentResponse](ctx, c.cc, methodCreatePaymentIntent, in, opts...)
}

func (c *OrderServiceClient) ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*ConfirmPaymentResponse, error) {
	return invoke[ConfirmPaymentRequest, ConfirmPaymentResponse](ctx, c.cc, methodConfirmPayment, in, opts...)
}
