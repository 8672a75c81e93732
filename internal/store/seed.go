package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// UpsertProduct writes a catalog row as a seller update would; in_stock is
// always derived from stock.
func (s *Store) UpsertProduct(ctx context.Context, p orders.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO products(id, store_id, name, price, stock, in_stock, featured, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		  store_id = excluded.store_id, name = excluded.name, price = excluded.price,
		  stock = excluded.stock, in_stock = excluded.in_stock, featured = excluded.featured,
		  updated_at = excluded.updated_at`),
		p.ID, p.StoreID, p.Name, p.Price, p.Stock, p.Stock > 0, p.Featured, p.CreatedAt, now)
	return err
}

func (s *Store) UpsertUser(ctx context.Context, u orders.User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users(id, email, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, name = excluded.name`),
		u.ID, u.Email, u.Name)
	return err
}

// SeedDemo inserts a small catalog into an empty database.
func (s *Store) SeedDemo(ctx context.Context) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM products`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	users := []orders.User{
		{ID: "u-alice", Email: "alice@marketplace.test", Name: "Alice"},
		{ID: "u-bob", Email: "bob@marketplace.test", Name: "Bob"},
	}
	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	products := []orders.Product{
		{ID: "p-coffee", StoreID: "s-highland", Name: "Highland Arabica 1kg", Price: decimal.RequireFromString("7500"), Stock: 40, Featured: true},
		{ID: "p-honey", StoreID: "s-highland", Name: "Forest Honey 500g", Price: decimal.RequireFromString("3500"), Stock: 12, Featured: true},
		{ID: "p-basket", StoreID: "s-weavers", Name: "Woven Basket", Price: decimal.RequireFromString("12000"), Stock: 3},
	}
	for _, p := range products {
		if err := s.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
