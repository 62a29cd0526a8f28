package domain

import "context"

// OrderFilter задаёт выборку заказов. Пустые поля не ограничивают выборку.
type OrderFilter struct {
	BuyerID  string
	SellerID string
	Statuses []OrderStatus
	// Limit > 0 ограничивает количество записей (только для List).
	Limit int
}

// Matches проверяет заказ на соответствие фильтру.
func (f OrderFilter) Matches(o Order) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && o.SellerID != f.SellerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetByPaymentIntent ищет заказ по идентификатору платёжного намерения.
	GetByPaymentIntent(ctx context.Context, intentID string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Count возвращает количество заказов по фильтру.
	Count(ctx context.Context, filter OrderFilter) (int, error)
	// SumTotal возвращает сумму TotalMinor по фильтру.
	SumTotal(ctx context.Context, filter OrderFilter) (int64, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// версия в хранилище должна совпадать с order.Version, иначе ErrPersistenceConflict.
	Save(ctx context.Context, order Order) error
}
