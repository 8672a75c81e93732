package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type orderRow struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	Total            decimal.Decimal `db:"total"`
	Status           string          `db:"status"`
	PaymentStatus    sql.NullString  `db:"payment_status"`
	PaymentReference sql.NullString  `db:"payment_reference"`
	PaymentProvider  sql.NullString  `db:"payment_provider"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	CompletedAt      *time.Time      `db:"completed_at"`
	CancelledAt      *time.Time      `db:"cancelled_at"`
}

func (r orderRow) toDomain() orders.Order {
	o := orders.Order{
		ID:               r.ID,
		UserID:           r.UserID,
		Total:            r.Total,
		Status:           orders.Status(r.Status),
		PaymentReference: r.PaymentReference.String,
		PaymentProvider:  r.PaymentProvider.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      r.CompletedAt,
		CancelledAt:      r.CancelledAt,
	}
	if r.PaymentStatus.Valid {
		ps := orders.PaymentStatus(r.PaymentStatus.String)
		o.PaymentStatus = &ps
	}
	return o
}

type orderItemRow struct {
	ID              string          `db:"id"`
	OrderID         string          `db:"order_id"`
	ProductID       string          `db:"product_id"`
	Quantity        int             `db:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase"`
}

type historyRow struct {
	ID        string    `db:"id"`
	OrderID   string    `db:"order_id"`
	Status    string    `db:"status"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
}

const orderColumns = `id, user_id, total, status, payment_status, payment_reference, payment_provider,
	created_at, updated_at, completed_at, cancelled_at`

type orderRepo struct{ q sqlx.ExtContext }

func (r *orderRepo) Create(ctx context.Context, o orders.Order) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO orders(id, user_id, total, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		o.ID, o.UserID, o.Total, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(`
			INSERT INTO order_items(id, order_id, product_id, quantity, price_at_purchase)
			VALUES (?, ?, ?, ?, ?)`),
			it.ID, o.ID, it.ProductID, it.Quantity, it.PriceAtPurchase); err != nil {
			return err
		}
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (orders.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id, "order "+id)
}

func (r *orderRepo) FindByPaymentReference(ctx context.Context, ref string) (orders.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = ?`, ref, "payment "+ref)
}

func (r *orderRepo) findOne(ctx context.Context, query, arg, what string) (orders.Order, error) {
	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(query), arg); err != nil {
		return orders.Order{}, notFound(err, what)
	}
	o := row.toDomain()
	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	var rows []orderRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(`
		SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(rows))
	for _, row := range rows {
		o := row.toDomain()
		o.Items = items[o.ID]
		out = append(out, o)
	}
	return out, nil
}

func (r *orderRepo) items(ctx context.Context, orderIDs []string) (map[string][]orders.OrderItem, error) {
	query, args, err := sqlx.In(`
		SELECT id, order_id, product_id, quantity, price_at_purchase
		FROM order_items WHERE order_id IN (?) ORDER BY product_id`, orderIDs)
	if err != nil {
		return nil, err
	}
	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for _, row := range rows {
		out[row.OrderID] = append(out[row.OrderID], orders.OrderItem{
			ID:              row.ID,
			OrderID:         row.OrderID,
			ProductID:       row.ProductID,
			Quantity:        row.Quantity,
			PriceAtPurchase: row.PriceAtPurchase,
		})
	}
	return out, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id string, from, to orders.Status, at time.Time) (bool, error) {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{string(to), at, id, string(from)}
	switch to {
	case orders.StatusCompleted:
		query = `UPDATE orders SET status = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`
		args = []any{string(to), at, at, id, string(from)}
	case orders.StatusCancelled:
		query = `UPDATE orders SET status = ?, updated_at = ?, cancelled_at = ? WHERE id = ? AND status = ?`
		args = []any{string(to), at, at, id, string(from)}
	}
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *orderRepo) SetPaymentPending(ctx context.Context, id, reference, provider string, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE orders
		SET payment_status = ?, payment_reference = ?, payment_provider = ?, updated_at = ?
		WHERE id = ? AND payment_status IS NULL`),
		string(orders.PaymentPending), reference, provider, at, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *orderRepo) SetPaymentStatus(ctx context.Context, id string, to orders.PaymentStatus, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE orders SET payment_status = ?, updated_at = ?
		WHERE id = ? AND payment_status = ?`),
		string(to), at, id, string(orders.PaymentPending))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *orderRepo) AppendHistory(ctx context.Context, h orders.StatusHistory) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO order_status_history(id, order_id, status, comment, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		h.ID, h.OrderID, string(h.Status), h.Comment, h.CreatedAt)
	return err
}

func (r *orderRepo) History(ctx context.Context, orderID string) ([]orders.StatusHistory, error) {
	var rows []historyRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(`
		SELECT id, order_id, status, comment, created_at
		FROM order_status_history WHERE order_id = ? ORDER BY created_at, id`), orderID)
	if err != nil {
		return nil, err
	}
	out := make([]orders.StatusHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, orders.StatusHistory{
			ID:        row.ID,
			OrderID:   row.OrderID,
			Status:    orders.Status(row.Status),
			Comment:   row.Comment,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
