package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Inventory хранит каталог и остатки в памяти. Реализует и Catalog, и InventoryLedger,
// поэтому чтение товара и списание остатка видят одни и те же данные.
type Inventory struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewInventory создаёт in-memory каталог с начальными товарами.
func NewInventory(products ...domain.Product) *Inventory {
	inv := &Inventory{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		inv.products[p.ID] = p
	}
	return inv
}

// Upsert добавляет или заменяет товар.
func (i *Inventory) Upsert(p domain.Product) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.products[p.ID] = p
}

// SetAvailable переключает флаг доступности товара.
func (i *Inventory) SetAvailable(productID string, available bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.products[productID]; ok {
		p.Available = available
		i.products[productID] = p
	}
}

func (i *Inventory) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	p, ok := i.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Reserve списывает qty под блокировкой: проверка и уменьшение выполняются атомарно.
func (i *Inventory) Reserve(_ context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	p, ok := i.products[productID]
	switch {
	case !ok:
		return domain.ErrProductNotFound
	case !p.Available:
		return domain.ErrProductUnavailable
	case p.Quantity < qty:
		return domain.ErrInsufficientStock
	}
	p.Quantity -= qty
	i.products[productID] = p
	return nil
}

func (i *Inventory) Release(_ context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	p, ok := i.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Quantity += qty
	i.products[productID] = p
	return nil
}

func (i *Inventory) Available(_ context.Context, productID string) (int32, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	p, ok := i.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return p.Quantity, nil
}

var (
	_ domain.Catalog         = (*Inventory)(nil)
	_ domain.InventoryLedger = (*Inventory)(nil)
)
