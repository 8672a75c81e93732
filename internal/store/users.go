package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type userRepo struct{ q sqlx.ExtContext }

func (r *userRepo) FindByID(ctx context.Context, id string) (orders.User, error) {
	var row struct {
		ID    string `db:"id"`
		Email string `db:"email"`
		Name  string `db:"name"`
	}
	if err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(`SELECT id, email, name FROM users WHERE id = ?`), id); err != nil {
		return orders.User{}, notFound(err, "user "+id)
	}
	return orders.User{ID: row.ID, Email: row.Email, Name: row.Name}, nil
}
