package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/service/payment"
	"github.com/vladislavdragonenkov/farmoms/internal/service/stats"
)

// Сообщения API farmoms.v1.OrderService. Передаются JSON-кодеком.

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Phone   string `json:"phone"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	SellerID  string `json:"seller_id,omitempty"`
}

type OrderItem struct {
	ProductID      string `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	ImageURL       string `json:"image_url,omitempty"`
	SellerName     string `json:"seller_name,omitempty"`
	Qty            int32  `json:"qty"`
	Unit           string `json:"unit,omitempty"`
	TotalMinor     int64  `json:"total_minor"`
}

type Order struct {
	ID                 string      `json:"id"`
	BuyerID            string      `json:"buyer_id"`
	SellerID           string      `json:"seller_id"`
	Items              []OrderItem `json:"items"`
	TotalMinor         int64       `json:"total_minor"`
	TotalDisplay       string      `json:"total_display"`
	Status             string      `json:"status"`
	ShippingAddress    Address     `json:"shipping_address"`
	PaymentStatus      string      `json:"payment_status"`
	PaymentMethod      string      `json:"payment_method"`
	PaymentIntentID    string      `json:"payment_intent_id,omitempty"`
	TransactionID      string      `json:"transaction_id,omitempty"`
	PaymentAmountMinor *int64      `json:"payment_amount_minor,omitempty"`
	// PaymentAmountDisplay содержит списанную сумму в единицах валюты заказа.
	PaymentAmountDisplay string     `json:"payment_amount_display,omitempty"`
	Currency             string     `json:"currency"`
	Notes                string     `json:"notes,omitempty"`
	EstimatedDelivery    time.Time  `json:"estimated_delivery"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type CheckoutRequest struct {
	Items           []CartItem `json:"items"`
	ShippingAddress Address    `json:"shipping_address"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Currency        string     `json:"currency,omitempty"`
}

// SellerFailure — группа продавца, заказ которой не удалось сохранить.
type SellerFailure struct {
	SellerID string `json:"seller_id"`
	Message  string `json:"message"`
}

type CheckoutResponse struct {
	Orders []Order `json:"orders"`
	// FailedSellers заполнен при частичном оформлении.
	FailedSellers []SellerFailure `json:"failed_sellers,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order    Order           `json:"order"`
	Timeline []TimelineEvent `json:"timeline"`
}

type ListOrdersRequest struct {
	Limit int32 `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

type GetOrderStatsRequest struct{}

type GetOrderStatsResponse struct {
	Role          string  `json:"role"`
	TotalOrders   int     `json:"total_orders"`
	PendingOrders int     `json:"pending_orders,omitempty"`
	ActiveOrders  int     `json:"active_orders,omitempty"`
	RevenueMinor  int64   `json:"revenue_minor,omitempty"`
	SpentMinor    int64   `json:"spent_minor,omitempty"`
	RecentOrders  []Order `json:"recent_orders"`
}

type CreatePaymentIntentRequest struct {
	OrderID string `json:"order_id"`
}

type CreatePaymentIntentResponse struct {
	OrderID      string `json:"order_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type ConfirmPaymentRequest struct {
	IntentID string `json:"intent_id"`
}

type ConfirmPaymentResponse struct {
	OrderID       string `json:"order_id"`
	IntentID      string `json:"intent_id"`
	IntentStatus  string `json:"intent_status"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

func toAPIOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ProductID:      item.ProductID,
			Title:          item.Title,
			UnitPriceMinor: item.UnitPriceMinor,
			ImageURL:       item.ImageURL,
			SellerName:     item.SellerName,
			Qty:            item.Qty,
			Unit:           item.Unit,
			TotalMinor:     item.TotalMinor,
		})
	}

	var paidDisplay string
	if order.PaymentAmountMinor != nil {
		paidDisplay = domain.FormatMinor(*order.PaymentAmountMinor, order.Currency)
	}

	return Order{
		ID:                   order.ID,
		BuyerID:              order.BuyerID,
		SellerID:             order.SellerID,
		Items:                items,
		TotalMinor:           order.TotalMinor,
		TotalDisplay:         domain.FormatMinor(order.TotalMinor, order.Currency),
		Status:               string(order.Status),
		ShippingAddress:      Address(order.ShippingAddress),
		PaymentStatus:        string(order.PaymentStatus),
		PaymentMethod:        string(order.PaymentMethod),
		PaymentIntentID:      order.PaymentIntentID,
		TransactionID:        order.TransactionID,
		PaymentAmountMinor:   order.PaymentAmountMinor,
		PaymentAmountDisplay: paidDisplay,
		Currency:             order.Currency,
		Notes:                order.Notes,
		EstimatedDelivery:    order.EstimatedDelivery,
		DeliveredAt:          order.DeliveredAt,
		Version:              order.Version,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}

func toAPIOrders(orders []domain.Order) []Order {
	result := make([]Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toAPIOrder(order))
	}
	return result
}

func toAPITimeline(events []domain.TimelineEvent) []TimelineEvent {
	result := make([]TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}

func toAPIStats(summary stats.Summary) *GetOrderStatsResponse {
	return &GetOrderStatsResponse{
		Role:          string(summary.Role),
		TotalOrders:   summary.TotalOrders,
		PendingOrders: summary.PendingOrders,
		ActiveOrders:  summary.ActiveOrders,
		RevenueMinor:  summary.RevenueMinor,
		SpentMinor:    summary.SpentMinor,
		RecentOrders:  toAPIOrders(summary.RecentOrders),
	}
}

func toAPIIntent(res payment.IntentResult) *CreatePaymentIntentResponse {
	return &CreatePaymentIntentResponse{
		OrderID:      res.OrderID,
		IntentID:     res.IntentID,
		ClientSecret: res.ClientSecret,
		Status:       string(res.Status),
	}
}

func toAPIConfirm(res payment.ConfirmResult) *ConfirmPaymentResponse {
	return &ConfirmPaymentResponse{
		OrderID:       res.OrderID,
		IntentID:      res.IntentID,
		IntentStatus:  string(res.IntentStatus),
		PaymentStatus: string(res.PaymentStatus),
	}
}
