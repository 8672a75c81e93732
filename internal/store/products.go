package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type productRow struct {
	ID            string              `db:"id"`
	StoreID       string              `db:"store_id"`
	Name          string              `db:"name"`
	Price         decimal.Decimal     `db:"price"`
	Stock         int                 `db:"stock"`
	InStock       bool                `db:"in_stock"`
	AverageRating decimal.NullDecimal `db:"average_rating"`
	Featured      bool                `db:"featured"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r productRow) toDomain() orders.Product {
	return orders.Product{
		ID:            r.ID,
		StoreID:       r.StoreID,
		Name:          r.Name,
		Price:         r.Price,
		Stock:         r.Stock,
		InStock:       r.InStock,
		AverageRating: r.AverageRating,
		Featured:      r.Featured,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const productColumns = `id, store_id, name, price, stock, in_stock, average_rating, featured, created_at, updated_at`

type productRepo struct{ q sqlx.ExtContext }

func (r *productRepo) FindByID(ctx context.Context, id string) (orders.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if err != nil {
		return orders.Product{}, notFound(err, "product "+id)
	}
	return row.toDomain(), nil
}

func (r *productRepo) FindMany(ctx context.Context, ids []string) ([]orders.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]orders.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *productRepo) ListFeatured(ctx context.Context, limit int) ([]orders.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []productRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(`
		SELECT `+productColumns+` FROM products
		WHERE featured = ? AND in_stock = ?
		ORDER BY average_rating DESC NULLS LAST, created_at DESC
		LIMIT ?`), true, true, limit)
	if err != nil {
		return nil, err
	}
	out := make([]orders.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// DecrementStock is the oversell guard: the row is only touched when it still
// holds enough stock, so two racing transactions cannot both succeed on the
// last units. in_stock is computed from the pre-update stock value.
func (r *productRepo) DecrementStock(ctx context.Context, id string, qty int, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE products
		SET stock = stock - ?, in_stock = (stock - ?) > 0, updated_at = ?
		WHERE id = ? AND stock >= ?`), qty, qty, at, id, qty)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *productRepo) IncrementStock(ctx context.Context, id string, qty int, at time.Time) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE products SET stock = stock + ?, in_stock = ?, updated_at = ? WHERE id = ?`),
		qty, true, at, id)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(errNoRows, "product "+id)
	}
	return nil
}

// Lock is a no-op update so it takes the row lock on every dialect; SQLite has
// no FOR UPDATE.
func (r *productRepo) Lock(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE products SET id = id WHERE id = ?`), id)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(errNoRows, "product "+id)
	}
	return nil
}

func (r *productRepo) SetAverageRating(ctx context.Context, id string, avg decimal.NullDecimal, at time.Time) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE products SET average_rating = ?, updated_at = ? WHERE id = ?`), avg, at, id)
	return err
}
