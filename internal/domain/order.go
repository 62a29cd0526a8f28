package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает этап исполнения заказа продавцом.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, продавец ещё не подтвердил.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — продавец принял заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен покупателем. Конечный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, резерв возвращён на склад. Конечный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal возвращает true для статусов, из которых нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ActiveStatuses — статусы заказа, которые покупатель видит как "в работе".
var ActiveStatuses = []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не получена.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — провайдер подтвердил списание.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — средства возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod — способ оплаты, выбранный при оформлении.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodCard           PaymentMethod = "card"
)

// DefaultCurrency используется, когда валюта не указана при оформлении.
const DefaultCurrency = "usd"

// EstimatedDeliveryWindow — плановый срок доставки от момента создания заказа.
const EstimatedDeliveryWindow = 7 * 24 * time.Hour

// ShippingAddress — адрес доставки. Все поля обязательны.
type ShippingAddress struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	ZipCode string `json:"zip_code" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
}

// OrderItem — снимок позиции каталога на момент оформления.
// Изменение цены или названия товара в каталоге не влияет на уже созданный заказ.
type OrderItem struct {
	ProductID      string
	Title          string
	UnitPriceMinor int64
	ImageURL       string
	SellerName     string
	Qty            int32
	Unit           string
	// TotalMinor фиксируется при создании: UnitPriceMinor * Qty.
	TotalMinor int64
}

// Order — заказ одного покупателя у одного продавца.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	Items           []OrderItem
	TotalMinor      int64
	Status          OrderStatus
	ShippingAddress ShippingAddress
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	// PaymentIntentID пуст, пока не создано платёжное намерение.
	PaymentIntentID string
	// TransactionID пуст, пока заказ не оплачен.
	TransactionID string
	// PaymentAmountMinor заполняется фактически списанной суммой.
	PaymentAmountMinor *int64
	Currency           string
	Notes              string
	EstimatedDelivery  time.Time
	// DeliveredAt заполнен тогда и только тогда, когда статус delivered.
	DeliveredAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrderItem строит снимок позиции из записи каталога.
func NewOrderItem(p Product, qty int32) OrderItem {
	return OrderItem{
		ProductID:      p.ID,
		Title:          p.Title,
		UnitPriceMinor: p.PriceMinor,
		ImageURL:       p.ImageURL,
		SellerName:     p.SellerName,
		Qty:            qty,
		Unit:           p.Unit,
		TotalMinor:     p.PriceMinor * int64(qty),
	}
}

// RecalculateTotal пересчитывает сумму заказа по позициям.
func (o *Order) RecalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.TotalMinor
	}
	o.TotalMinor = total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if strings.TrimSpace(o.Currency) == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}

	var (
		calc     int64
		overflow bool
	)
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		want, err := LineTotalMinor(item.UnitPriceMinor, item.Qty)
		if err != nil {
			overflow = true
		} else if item.TotalMinor != want {
			errs = append(errs, ErrItemTotalMismatch)
		}
		if sum, err := AddMinor(calc, item.TotalMinor); err != nil {
			overflow = true
		} else {
			calc = sum
		}
	}
	if overflow {
		errs = append(errs, ErrAmountOverflow)
	} else if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	if (o.DeliveredAt != nil) != (o.Status == OrderStatusDelivered) {
		errs = append(errs, ErrDeliveredAtMismatch)
	}

	return errs
}

// TotalQty возвращает суммарное количество единиц товара в заказе.
func (o *Order) TotalQty() int64 {
	var qty int64
	for _, item := range o.Items {
		qty += int64(item.Qty)
	}
	return qty
}
