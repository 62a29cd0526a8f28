package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "buyer-1", "seller-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "buyer-1", "seller-2", now.Add(-time.Minute))

	require.NoError(t, repo.Create(ctx, order1))
	require.NoError(t, repo.Create(ctx, order2))

	got, err := repo.Get(ctx, order1.ID)
	require.NoError(t, err)
	require.Equal(t, order1.BuyerID, got.BuyerID)
	require.Equal(t, order1.SellerID, got.SellerID)
	require.Equal(t, order1.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Items, 2)
	require.Equal(t, "Tomatoes", got.Items[0].Title)
	require.Equal(t, int64(1499), got.TotalMinor)
	require.Nil(t, got.DeliveredAt)
	require.Nil(t, got.PaymentAmountMinor)

	listed, err := repo.List(ctx, domain.OrderFilter{BuyerID: "buyer-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, order2.ID, listed[0].ID)

	all, err := repo.List(ctx, domain.OrderFilter{BuyerID: "buyer-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Len(t, all[1].Items, 2, "items must be loaded for every listed order")

	bySeller, err := repo.Count(ctx, domain.OrderFilter{SellerID: "seller-1"})
	require.NoError(t, err)
	require.Equal(t, 1, bySeller)

	got.Status = domain.OrderStatusConfirmed
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, got))

	updated, err := repo.Get(ctx, order1.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)
	require.Equal(t, got.Version+1, updated.Version)
}

func TestOrderRepository_PostgresRevenueAndPayment(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	delivered := sampleOrder("order-delivered", "buyer-1", "seller-1", now)
	pending := sampleOrder("order-pending", "buyer-2", "seller-1", now)
	require.NoError(t, repo.Create(ctx, delivered))
	require.NoError(t, repo.Create(ctx, pending))

	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &now
	delivered.AttachIntent("pi_123", now)
	delivered.MarkPaid("ch_123", delivered.TotalMinor, now)
	require.NoError(t, repo.Save(ctx, delivered))

	revenue, err := repo.SumTotal(ctx, domain.OrderFilter{
		SellerID: "seller-1",
		Statuses: []domain.OrderStatus{domain.OrderStatusDelivered},
	})
	require.NoError(t, err)
	require.Equal(t, delivered.TotalMinor, revenue)

	byIntent, err := repo.GetByPaymentIntent(ctx, "pi_123")
	require.NoError(t, err)
	require.Equal(t, delivered.ID, byIntent.ID)
	require.Equal(t, domain.PaymentStatusPaid, byIntent.PaymentStatus)
	require.Equal(t, "ch_123", byIntent.TransactionID)
	require.NotNil(t, byIntent.PaymentAmountMinor)
	require.NotNil(t, byIntent.DeliveredAt)

	pending.AttachIntent("pi_123", now)
	err = repo.Save(ctx, pending)
	require.ErrorIs(t, err, domain.ErrDuplicatePaymentIntent)

	_, err = repo.GetByPaymentIntent(ctx, "pi_missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "buyer-2", "seller-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	require.NoError(t, repo.Create(ctx, base))
	if err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists on duplicate create, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusConfirmed
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Fatalf("expected ErrPersistenceConflict on stale save, got %v", err)
	}
}

func TestUniqueViolation(t *testing.T) {
	if pgErr, ok := uniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"})); !ok || pgErr.ConstraintName != "orders_pkey" {
		t.Fatal("expected wrapped unique violation for code 23505")
	}
	if _, ok := uniqueViolation(&pgconn.PgError{Code: "22001"}); ok {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if _, ok := uniqueViolation(errors.New("plain error")); ok {
		t.Fatal("plain error must not be unique violation")
	}
}

func TestBuildOrderFilter(t *testing.T) {
	where, args := buildOrderFilter(domain.OrderFilter{
		BuyerID:  "b",
		SellerID: "s",
		Statuses: []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusShipped},
	})
	require.Contains(t, where, "buyer_id = $1")
	require.Contains(t, where, "seller_id = $2")
	require.Contains(t, where, "status = ANY($3)")
	require.Len(t, args, 3)

	where, args = buildOrderFilter(domain.OrderFilter{})
	require.Empty(t, where)
	require.Empty(t, args)
}

func sampleOrder(id, buyerID, sellerID string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:       id,
		BuyerID:  buyerID,
		SellerID: sellerID,
		Items: []domain.OrderItem{
			domain.NewOrderItem(domain.Product{ID: "p-tomato", Title: "Tomatoes", PriceMinor: 250, Unit: "kg", SellerName: "Green Farm"}, 4),
			domain.NewOrderItem(domain.Product{ID: "p-eggs", Title: "Eggs", PriceMinor: 499, Unit: "dozen", SellerName: "Green Farm"}, 1),
		},
		Status: domain.OrderStatusPending,
		ShippingAddress: domain.ShippingAddress{
			Street:  "1 Farm Rd",
			City:    "Springfield",
			State:   "IL",
			ZipCode: "62701",
			Phone:   "+15550100",
		},
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethod:     domain.PaymentMethodCashOnDelivery,
		Currency:          domain.DefaultCurrency,
		EstimatedDelivery: createdAt.Add(domain.EstimatedDeliveryWindow),
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
	order.RecalculateTotal()
	return order
}
