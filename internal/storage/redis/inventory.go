// Package redis хранит каталог и остатки товаров в Redis-хэшах product:{id}.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

const keyPrefix = "farmoms:product:"

// Коды возврата скрипта резерва.
const (
	reserveMissing      = -1
	reserveUnavailable  = -2
	reserveInsufficient = -3
)

// Скрипт выполняется атомарно, поэтому проверка и списание не разделены другими командами.
var reserveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'available') ~= '1' then
  return -2
end
local qty = tonumber(ARGV[1])
local left = tonumber(redis.call('HGET', KEYS[1], 'quantity') or '0')
if left < qty then
  return -3
end
return redis.call('HINCRBY', KEYS[1], 'quantity', -qty)
`)

var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'quantity', tonumber(ARGV[1]))
`)

// Inventory реализует Catalog и InventoryLedger поверх Redis.
type Inventory struct {
	client goredis.UniversalClient
}

func NewInventory(client goredis.UniversalClient) *Inventory {
	return &Inventory{client: client}
}

func productKey(id string) string {
	return keyPrefix + id
}

// UpsertProduct записывает карточку товара целиком.
func (i *Inventory) UpsertProduct(ctx context.Context, p domain.Product) error {
	available := "0"
	if p.Available {
		available = "1"
	}
	err := i.client.HSet(ctx, productKey(p.ID), map[string]any{
		"seller_id":   p.SellerID,
		"seller_name": p.SellerName,
		"title":       p.Title,
		"price_minor": p.PriceMinor,
		"unit":        p.Unit,
		"image_url":   p.ImageURL,
		"quantity":    p.Quantity,
		"available":   available,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis upsert product: %w", err)
	}
	return nil
}

func (i *Inventory) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	fields, err := i.client.HGetAll(ctx, productKey(productID)).Result()
	if err != nil {
		return domain.Product{}, fmt.Errorf("redis get product: %w", err)
	}
	if len(fields) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	price, err := strconv.ParseInt(fields["price_minor"], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price_minor of %s: %w", productID, err)
	}
	qty, err := strconv.ParseInt(fields["quantity"], 10, 32)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse quantity of %s: %w", productID, err)
	}

	return domain.Product{
		ID:         productID,
		SellerID:   fields["seller_id"],
		SellerName: fields["seller_name"],
		Title:      fields["title"],
		PriceMinor: price,
		Unit:       fields["unit"],
		ImageURL:   fields["image_url"],
		Quantity:   int32(qty),
		Available:  fields["available"] == "1",
	}, nil
}

func (i *Inventory) Reserve(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	res, err := reserveScript.Run(ctx, i.client, []string{productKey(productID)}, qty).Int64()
	if err != nil {
		return fmt.Errorf("redis reserve: %w", err)
	}
	switch res {
	case reserveMissing:
		return domain.ErrProductNotFound
	case reserveUnavailable:
		return domain.ErrProductUnavailable
	case reserveInsufficient:
		return domain.ErrInsufficientStock
	}
	return nil
}

func (i *Inventory) Release(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	res, err := releaseScript.Run(ctx, i.client, []string{productKey(productID)}, qty).Int64()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if res == reserveMissing {
		return domain.ErrProductNotFound
	}
	return nil
}

func (i *Inventory) Available(ctx context.Context, productID string) (int32, error) {
	raw, err := i.client.HGet(ctx, productKey(productID), "quantity").Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis available: %w", err)
	}
	return int32(raw), nil
}

// Ping используется health-проверкой.
func (i *Inventory) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

var (
	_ domain.Catalog         = (*Inventory)(nil)
	_ domain.InventoryLedger = (*Inventory)(nil)
)
