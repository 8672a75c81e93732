package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type cartRepo struct{ q sqlx.ExtContext }

func (r *cartRepo) FindByUser(ctx context.Context, userID string) (orders.Cart, error) {
	var row struct {
		ID     string `db:"id"`
		UserID string `db:"user_id"`
	}
	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(`SELECT id, user_id FROM carts WHERE user_id = ?`), userID)
	if err != nil {
		return orders.Cart{}, notFound(err, "cart of "+userID)
	}
	c := orders.Cart{ID: row.ID, UserID: row.UserID}

	var items []struct {
		ProductID string `db:"product_id"`
		Quantity  int    `db:"quantity"`
	}
	if err := sqlx.SelectContext(ctx, r.q, &items, r.q.Rebind(`
		SELECT product_id, quantity FROM cart_items WHERE cart_id = ? ORDER BY product_id`), c.ID); err != nil {
		return orders.Cart{}, err
	}
	for _, it := range items {
		c.Items = append(c.Items, orders.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return c, nil
}

// UpsertItem creates the user's cart on first use and sets the line quantity.
func (r *cartRepo) UpsertItem(ctx context.Context, userID, productID string, qty int, at time.Time) error {
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO carts(id, user_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`),
		uuid.NewString(), userID, at); err != nil {
		return err
	}
	var cartID string
	if err := sqlx.GetContext(ctx, r.q, &cartID, r.q.Rebind(`SELECT id FROM carts WHERE user_id = ?`), userID); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO cart_items(cart_id, product_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = excluded.quantity`),
		cartID, productID, qty)
	return err
}

func (r *cartRepo) RemoveItem(ctx context.Context, userID, productID string) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		DELETE FROM cart_items
		WHERE product_id = ? AND cart_id = (SELECT id FROM carts WHERE user_id = ?)`), productID, userID)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(errNoRows, "cart item "+productID)
	}
	return nil
}

// DeleteByUser removes the cart and its lines explicitly; SQLite does not
// enforce ON DELETE CASCADE unless foreign keys are switched on.
func (r *cartRepo) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(`
		DELETE FROM cart_items WHERE cart_id = (SELECT id FROM carts WHERE user_id = ?)`), userID); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM carts WHERE user_id = ?`), userID)
	return err
}
