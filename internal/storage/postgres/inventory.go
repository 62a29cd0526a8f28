package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Inventory ведёт каталог и складской учёт в таблице products.
// Резерв выполняется одним условным UPDATE, поэтому проверка остатка и списание атомарны.
type Inventory struct {
	db *sql.DB
}

// NewInventory создаёт PostgreSQL-реализацию Catalog и InventoryLedger.
func NewInventory(store *Store) *Inventory {
	return &Inventory{db: store.DB()}
}

func (i *Inventory) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := i.db.QueryRowContext(ctx, `
		SELECT id, seller_id, seller_name, title, price_minor, unit, image_url, quantity, available
		FROM products
		WHERE id = $1
	`, productID).Scan(
		&p.ID, &p.SellerID, &p.SellerName, &p.Title, &p.PriceMinor,
		&p.Unit, &p.ImageURL, &p.Quantity, &p.Available,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// UpsertProduct создаёт или заменяет запись каталога (используется для seed и в тестах).
func (i *Inventory) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := i.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, seller_name, title, price_minor, unit, image_url, quantity, available, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id,
			seller_name = EXCLUDED.seller_name,
			title = EXCLUDED.title,
			price_minor = EXCLUDED.price_minor,
			unit = EXCLUDED.unit,
			image_url = EXCLUDED.image_url,
			quantity = EXCLUDED.quantity,
			available = EXCLUDED.available,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.SellerID, p.SellerName, p.Title, p.PriceMinor, p.Unit, p.ImageURL, p.Quantity, p.Available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (i *Inventory) Reserve(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := i.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND available
		  AND quantity >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Условие не выполнилось: выясняем причину отдельным чтением.
	p, err := i.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.Available {
		return domain.ErrProductUnavailable
	}
	return domain.ErrInsufficientStock
}

func (i *Inventory) Release(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := i.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (i *Inventory) Available(ctx context.Context, productID string) (int32, error) {
	p, err := i.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

var (
	_ domain.Catalog         = (*Inventory)(nil)
	_ domain.InventoryLedger = (*Inventory)(nil)
)
