package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byIntent map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[string]domain.Order),
		byIntent: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.PaymentIntentID != "" {
		if _, taken := r.byIntent[order.PaymentIntentID]; taken {
			return domain.ErrDuplicatePaymentIntent
		}
		r.byIntent[order.PaymentIntentID] = order.ID
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) GetByPaymentIntent(_ context.Context, intentID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIntent[intentID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if !filter.Matches(order) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (r *orderRepositoryInMemory) Count(_ context.Context, filter domain.OrderFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, order := range r.items {
		if filter.Matches(order) {
			count++
		}
	}
	return count, nil
}

func (r *orderRepositoryInMemory) SumTotal(_ context.Context, filter domain.OrderFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum int64
	for _, order := range r.items {
		if filter.Matches(order) {
			sum += order.TotalMinor
		}
	}
	return sum, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrPersistenceConflict
	}
	if order.PaymentIntentID != current.PaymentIntentID && order.PaymentIntentID != "" {
		if owner, taken := r.byIntent[order.PaymentIntentID]; taken && owner != order.ID {
			return domain.ErrDuplicatePaymentIntent
		}
		delete(r.byIntent, current.PaymentIntentID)
		r.byIntent[order.PaymentIntentID] = order.ID
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.PaymentAmountMinor != nil {
		amount := *src.PaymentAmountMinor
		dst.PaymentAmountMinor = &amount
	}
	if src.DeliveredAt != nil {
		at := *src.DeliveredAt
		dst.DeliveredAt = &at
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
