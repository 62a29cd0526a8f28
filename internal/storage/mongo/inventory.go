// Package mongo хранит каталог товаров и остатки в коллекции MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// CollectionProducts — коллекция каталога.
const CollectionProducts = "products"

type productDocument struct {
	ID         string    `bson:"_id"`
	SellerID   string    `bson:"seller_id"`
	SellerName string    `bson:"seller_name"`
	Title      string    `bson:"title"`
	PriceMinor int64     `bson:"price_minor"`
	Unit       string    `bson:"unit"`
	ImageURL   string    `bson:"image_url"`
	Quantity   int32     `bson:"quantity"`
	Available  bool      `bson:"available"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d productDocument) toDomain() domain.Product {
	return domain.Product{
		ID:         d.ID,
		SellerID:   d.SellerID,
		SellerName: d.SellerName,
		Title:      d.Title,
		PriceMinor: d.PriceMinor,
		Unit:       d.Unit,
		ImageURL:   d.ImageURL,
		Quantity:   d.Quantity,
		Available:  d.Available,
	}
}

// Connect открывает клиент MongoDB и возвращает базу данных.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client.Database(database), nil
}

// Inventory реализует Catalog и InventoryLedger поверх MongoDB.
type Inventory struct {
	collection *mongo.Collection
}

func NewInventory(db *mongo.Database) *Inventory {
	return &Inventory{collection: db.Collection(CollectionProducts)}
}

func (i *Inventory) UpsertProduct(ctx context.Context, p domain.Product) error {
	doc := productDocument{
		ID:         p.ID,
		SellerID:   p.SellerID,
		SellerName: p.SellerName,
		Title:      p.Title,
		PriceMinor: p.PriceMinor,
		Unit:       p.Unit,
		ImageURL:   p.ImageURL,
		Quantity:   p.Quantity,
		Available:  p.Available,
		UpdatedAt:  time.Now().UTC(),
	}
	_, err := i.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (i *Inventory) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var doc productDocument
	err := i.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	return doc.toDomain(), nil
}

func (i *Inventory) Reserve(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	filter := bson.M{
		"_id":       productID,
		"available": true,
		"quantity":  bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc": bson.M{"quantity": -qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	err := i.collection.FindOneAndUpdate(ctx, filter, update).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("reserve stock: %w", err)
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

	res, err := i.collection.UpdateOne(ctx, bson.M{"_id": productID}, bson.M{
		"$inc": bson.M{"quantity": qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if res.MatchedCount == 0 {
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

// Ping используется health-проверкой.
func (i *Inventory) Ping(ctx context.Context) error {
	return i.collection.Database().Client().Ping(ctx, nil)
}

var (
	_ domain.Catalog         = (*Inventory)(nil)
	_ domain.InventoryLedger = (*Inventory)(nil)
)
