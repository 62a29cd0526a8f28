package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/memory"
)

func newOrder(id, buyerID, sellerID string, createdAt time.Time) domain.Order {
	item := domain.NewOrderItem(domain.Product{ID: "p-1", Title: "Apples", PriceMinor: 100, Unit: "kg"}, 5)
	order := domain.Order{
		ID:            id,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      "usd",
		Items:         []domain.OrderItem{item},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	order.RecalculateTotal()
	return order
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "buyer-1", "seller-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || stored.TotalMinor != 500 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	// Мутация копии не должна влиять на хранилище.
	stored.Items[0].Qty = 99
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 5 {
		t.Fatalf("repository returned shared slice")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListCountSum(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Now().UTC()

	orders := []domain.Order{
		newOrder("o-1", "buyer-1", "seller-1", base),
		newOrder("o-2", "buyer-1", "seller-2", base.Add(time.Minute)),
		newOrder("o-3", "buyer-2", "seller-1", base.Add(2*time.Minute)),
	}
	orders[2].Status = domain.OrderStatusDelivered
	at := base
	orders[2].DeliveredAt = &at
	for _, o := range orders {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	list, err := repo.List(ctx, domain.OrderFilter{BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "o-2" || list[1].ID != "o-1" {
		t.Fatalf("expected newest first [o-2 o-1], got %v", ids(list))
	}

	limited, _ := repo.List(ctx, domain.OrderFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "o-3" {
		t.Fatalf("expected [o-3], got %v", ids(limited))
	}

	count, _ := repo.Count(ctx, domain.OrderFilter{SellerID: "seller-1"})
	if count != 2 {
		t.Fatalf("expected 2 seller orders, got %d", count)
	}

	revenue, _ := repo.SumTotal(ctx, domain.OrderFilter{
		SellerID: "seller-1",
		Statuses: []domain.OrderStatus{domain.OrderStatusDelivered},
	})
	if revenue != 500 {
		t.Fatalf("expected revenue 500, got %d", revenue)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "buyer-1", "seller-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Status = domain.OrderStatusConfirmed
	if err := repo.Save(ctx, order); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Повторное сохранение со старой версией должно упасть.
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Version != 1 || stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected stored order version=%d status=%s", stored.Version, stored.Status)
	}

	missing := newOrder("nope", "b", "s", time.Now())
	if err := repo.Save(ctx, missing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_PaymentIntentIndex(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	first := newOrder("o-1", "buyer-1", "seller-1", time.Now().UTC())
	second := newOrder("o-2", "buyer-1", "seller-2", time.Now().UTC())
	for _, o := range []domain.Order{first, second} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	first.PaymentIntentID = "pi_1"
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	found, err := repo.GetByPaymentIntent(ctx, "pi_1")
	if err != nil || found.ID != "o-1" {
		t.Fatalf("expected o-1 by intent, got %v %v", found.ID, err)
	}

	second.PaymentIntentID = "pi_1"
	if err := repo.Save(ctx, second); !errors.Is(err, domain.ErrDuplicatePaymentIntent) {
		t.Fatalf("expected duplicate intent error, got %v", err)
	}
	if _, err := repo.GetByPaymentIntent(ctx, "pi_404"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func ids(orders []domain.Order) []string {
	result := make([]string, 0, len(orders))
	for _, o := range orders {
		result = append(result, o.ID)
	}
	return result
}
