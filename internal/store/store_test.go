package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.UpsertUser(context.Background(), orders.User{ID: "u1", Email: "u1@example.test", Name: "U1"}))
	require.NoError(t, s.UpsertProduct(context.Background(), orders.Product{
		ID: "p1", StoreID: "s1", Name: "Mug", Price: decimal.RequireFromString("12.50"), Stock: 5, Featured: true,
	}))
	require.NoError(t, s.UpsertProduct(context.Background(), orders.Product{
		ID: "p2", StoreID: "s2", Name: "Tea", Price: decimal.RequireFromString("4"), Stock: 1,
	}))
	return s
}

func newOrder(userID string, at time.Time, items ...orders.OrderItem) orders.Order {
	o := orders.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    orders.StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	for _, it := range items {
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		o.Total = o.Total.Add(it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity))))
		o.Items = append(o.Items, it)
	}
	return o
}

func TestDecrementStockGuard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	products := s.Repos().Products
	now := time.Now().UTC()

	ok, err := products.DecrementStock(ctx, "p2", 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = products.DecrementStock(ctx, "p2", 1, now)
	require.NoError(t, err)
	assert.False(t, ok, "second decrement must not drive stock negative")

	p, err := products.FindByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.InStock)

	require.NoError(t, products.IncrementStock(ctx, "p2", 3, now))
	p, err = products.FindByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	assert.True(t, p.InStock)
}

func TestProductNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Repos().Products.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	err = s.Repos().Products.IncrementStock(context.Background(), "missing", 1, time.Now())
	assert.ErrorIs(t, err, orders.ErrNotFound)

	err = s.Repos().Products.Lock(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestLockProductInsideTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.WithTransaction(ctx, func(ctx context.Context, r orders.Repositories) error {
		if err := r.Products.Lock(ctx, "p1"); err != nil {
			return err
		}
		_, err := r.Products.FindByID(ctx, "p1")
		return err
	})
	require.NoError(t, err)

	p, err := s.Repos().Products.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock, "locking changes nothing")
}

func TestFindManyAndFeatured(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ps, err := s.Repos().Products.FindMany(ctx, []string{"p1", "p2", "nope"})
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	featured, err := s.Repos().Products.ListFeatured(ctx, 10)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, "p1", featured[0].ID)
	assert.True(t, featured[0].Price.Equal(decimal.RequireFromString("12.5")))
}

func TestOrderCreateAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	o := newOrder("u1", now, orders.OrderItem{ProductID: "p1", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("12.50")})
	require.NoError(t, s.Repos().Orders.Create(ctx, o))

	got, err := s.Repos().Orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Nil(t, got.PaymentStatus)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("25")))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.Items[0].PriceAtPurchase.Equal(decimal.RequireFromString("12.5")))

	list, err := s.Repos().Orders.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 1)

	_, err = s.Repos().Orders.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestConditionalStatusUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	o := newOrder("u1", now, orders.OrderItem{ProductID: "p1", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(1)})
	require.NoError(t, s.Repos().Orders.Create(ctx, o))

	ok, err := s.Repos().Orders.UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusCancelled, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Repos().Orders.UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusProcessing, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Repos().Orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.CompletedAt)
}

func TestPaymentColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	o := newOrder("u1", now, orders.OrderItem{ProductID: "p1", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(1)})
	require.NoError(t, s.Repos().Orders.Create(ctx, o))
	repo := s.Repos().Orders

	ok, err := repo.SetPaymentPending(ctx, o.ID, "ref-1", "mobile-money", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetPaymentPending(ctx, o.ID, "ref-2", "mobile-money", now)
	require.NoError(t, err)
	assert.False(t, ok, "a payment can only be initiated once")

	byRef, err := repo.FindByPaymentReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byRef.ID)
	require.NotNil(t, byRef.PaymentStatus)
	assert.Equal(t, orders.PaymentPending, *byRef.PaymentStatus)

	ok, err = repo.SetPaymentStatus(ctx, o.ID, orders.PaymentPaid, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetPaymentStatus(ctx, o.ID, orders.PaymentFailed, now)
	require.NoError(t, err)
	assert.False(t, ok, "settled payments are not overwritten")
}

func TestHistoryOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	o := newOrder("u1", now, orders.OrderItem{ProductID: "p1", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(1)})
	require.NoError(t, s.Repos().Orders.Create(ctx, o))

	require.NoError(t, s.Repos().Orders.AppendHistory(ctx, orders.StatusHistory{
		ID: uuid.NewString(), OrderID: o.ID, Status: orders.StatusPending, Comment: "Order created", CreatedAt: now,
	}))
	require.NoError(t, s.Repos().Orders.AppendHistory(ctx, orders.StatusHistory{
		ID: uuid.NewString(), OrderID: o.ID, Status: orders.StatusProcessing, Comment: "Payment confirmed", CreatedAt: now.Add(time.Second),
	}))

	h, err := s.Repos().Orders.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "Order created", h[0].Comment)
	assert.Equal(t, orders.StatusProcessing, h[1].Status)
}

func TestWithTransactionRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTransaction(ctx, func(ctx context.Context, r orders.Repositories) error {
		ok, err := r.Products.DecrementStock(ctx, "p1", 2, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.Repos().Products.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestCartLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	carts := s.Repos().Carts
	now := time.Now().UTC()

	_, err := carts.FindByUser(ctx, "u1")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	require.NoError(t, carts.UpsertItem(ctx, "u1", "p1", 1, now))
	require.NoError(t, carts.UpsertItem(ctx, "u1", "p2", 1, now))
	require.NoError(t, carts.UpsertItem(ctx, "u1", "p1", 3, now))

	c, err := carts.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []orders.CartItem{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}, c.Items)

	require.NoError(t, carts.RemoveItem(ctx, "u1", "p2"))
	assert.ErrorIs(t, carts.RemoveItem(ctx, "u1", "p2"), orders.ErrNotFound)

	require.NoError(t, carts.DeleteByUser(ctx, "u1"))
	_, err = carts.FindByUser(ctx, "u1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestReviewRatings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	o := newOrder("u1", now, orders.OrderItem{ProductID: "p1", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(1)})
	require.NoError(t, s.Repos().Orders.Create(ctx, o))
	reviews := s.Repos().Reviews

	rv := orders.Review{ID: uuid.NewString(), UserID: "u1", ProductID: "p1", OrderID: o.ID, Rating: 4, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, reviews.Create(ctx, rv))

	exists, err := reviews.Exists(ctx, "u1", "p1", o.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	rv.Rating = 2
	require.NoError(t, reviews.Update(ctx, rv))
	ratings, err := reviews.Ratings(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ratings)

	require.NoError(t, s.Repos().Products.SetAverageRating(ctx, "p1", decimal.NewNullDecimal(decimal.RequireFromString("2.0")), now))
	p, err := s.Repos().Products.FindByID(ctx, "p1")
	require.NoError(t, err)
	require.True(t, p.AverageRating.Valid)
	assert.True(t, p.AverageRating.Decimal.Equal(decimal.NewFromInt(2)))

	require.NoError(t, reviews.Delete(ctx, rv.ID))
	assert.ErrorIs(t, reviews.Delete(ctx, rv.ID), orders.ErrNotFound)
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx))

	// the catalog was not empty, so nothing was seeded
	_, err := s.Repos().Products.FindByID(ctx, "p-coffee")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
