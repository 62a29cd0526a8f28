package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка пустой корзины при оформлении.
	ErrEmptyCart = errors.New("cart is empty")
	// Ошибка некорректных входных данных запроса.
	ErrInvalidArgument = errors.New("invalid argument")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего идентификатора продавца.
	ErrSellerRequired = errors.New("seller_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка, если сумма позиции не равна цене, умноженной на количество.
	ErrItemTotalMismatch = errors.New("item total does not match price * qty")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка рассогласования DeliveredAt и статуса delivered.
	ErrDeliveredAtMismatch = errors.New("delivered_at must be set only for delivered orders")

	// ErrProductNotFound — товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductUnavailable — товар снят с продажи.
	ErrProductUnavailable = errors.New("product is not available")
	// ErrInsufficientStock — остатка не хватает для резерва.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity — количество для резерва или возврата должно быть положительным.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrAmountOverflow возвращается, когда сумма позиции или заказа не помещается в int64.
	ErrAmountOverflow = errors.New("amount overflows int64")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrPersistenceConflict сигнализирует о конфликте версий при сохранении.
	ErrPersistenceConflict = errors.New("order version conflict")
	// ErrDuplicatePaymentIntent — намерение уже привязано к другому заказу.
	ErrDuplicatePaymentIntent = errors.New("payment intent is already bound to another order")

	// ErrNotAuthorized — пользователь не является стороной заказа или не вправе выполнять операцию.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUnauthenticated — в запросе нет проверенной личности.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidSignature — подпись webhook не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrPaymentProviderUnavailable — провайдер недоступен или не ответил вовремя. Можно повторить.
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentIntentNotFound — провайдер не знает такого намерения.
	ErrPaymentIntentNotFound = errors.New("payment intent not found")
	// ErrOrderNotPayable — заказ в статусе, который нельзя оплатить.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrAlreadyPaid — заказ уже оплачен.
	ErrAlreadyPaid = errors.New("order is already paid")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrPersistenceConflict)
}

// IsRetryable — ошибки, после которых клиент может повторить запрос без изменений.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPaymentProviderUnavailable) || errors.Is(err, ErrPersistenceConflict)
}

// LineItemError указывает, какая позиция корзины не прошла проверку или резерв.
type LineItemError struct {
	Index     int
	ProductID string
	Err       error
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("item[%d] product %s: %v", e.Index, e.ProductID, e.Err)
}

func (e *LineItemError) Unwrap() error { return e.Err }

// TransitionError — попытка перейти по несуществующему ребру графа статусов.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// SellerFailure — продавец, заказ которого не удалось сохранить.
type SellerFailure struct {
	SellerID string
	Err      error
}

// PartialCheckoutError возвращается вместе с уже созданными заказами,
// если часть групп продавцов сохранить не удалось.
type PartialCheckoutError struct {
	Failed []SellerFailure
}

func (e *PartialCheckoutError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.SellerID, f.Err))
	}
	return "partial checkout: " + strings.Join(parts, "; ")
}

func (e *PartialCheckoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
