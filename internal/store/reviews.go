package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type reviewRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ProductID string    `db:"product_id"`
	OrderID   string    `db:"order_id"`
	Rating    int       `db:"rating"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r reviewRow) toDomain() orders.Review {
	return orders.Review(r)
}

const reviewColumns = `id, user_id, product_id, order_id, rating, comment, created_at, updated_at`

type reviewRepo struct{ q sqlx.ExtContext }

func (r *reviewRepo) Create(ctx context.Context, rv orders.Review) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO reviews(`+reviewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rv.ID, rv.UserID, rv.ProductID, rv.OrderID, rv.Rating, rv.Comment, rv.CreatedAt, rv.UpdatedAt)
	return err
}

func (r *reviewRepo) FindByID(ctx context.Context, id string) (orders.Review, error) {
	var row reviewRow
	if err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(`SELECT `+reviewColumns+` FROM reviews WHERE id = ?`), id); err != nil {
		return orders.Review{}, notFound(err, "review "+id)
	}
	return row.toDomain(), nil
}

func (r *reviewRepo) Update(ctx context.Context, rv orders.Review) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE reviews SET rating = ?, comment = ?, updated_at = ? WHERE id = ?`),
		rv.Rating, rv.Comment, rv.UpdatedAt, rv.ID)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(errNoRows, "review "+rv.ID)
	}
	return nil
}

func (r *reviewRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM reviews WHERE id = ?`), id)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(errNoRows, "review "+id)
	}
	return nil
}

func (r *reviewRepo) Exists(ctx context.Context, userID, productID, orderID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(`
		SELECT COUNT(*) FROM reviews WHERE user_id = ? AND product_id = ? AND order_id = ?`),
		userID, productID, orderID)
	return n > 0, err
}

func (r *reviewRepo) ListByProduct(ctx context.Context, productID string) ([]orders.Review, error) {
	var rows []reviewRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(`
		SELECT `+reviewColumns+` FROM reviews WHERE product_id = ? ORDER BY created_at DESC`), productID)
	if err != nil {
		return nil, err
	}
	out := make([]orders.Review, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *reviewRepo) Ratings(ctx context.Context, productID string) ([]int, error) {
	var ratings []int
	err := sqlx.SelectContext(ctx, r.q, &ratings, r.q.Rebind(`SELECT rating FROM reviews WHERE product_id = ?`), productID)
	return ratings, err
}
