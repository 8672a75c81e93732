package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (Product, error)
	FindMany(ctx context.Context, ids []string) ([]Product, error)
	ListFeatured(ctx context.Context, limit int) ([]Product, error)
	// DecrementStock subtracts qty only if stock >= qty and reports whether it did.
	DecrementStock(ctx context.Context, id string, qty int, at time.Time) (bool, error)
	IncrementStock(ctx context.Context, id string, qty int, at time.Time) error
	SetAverageRating(ctx context.Context, id string, avg decimal.NullDecimal, at time.Time) error
	// Lock holds the product row until the surrounding transaction ends.
	Lock(ctx context.Context, id string) error
}

type OrderRepository interface {
	// Create inserts the order row and all of its items.
	Create(ctx context.Context, o Order) error
	FindByID(ctx context.Context, id string) (Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus moves the order from -> to and reports false if the
	// stored status was no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	// SetPaymentPending records an initiated payment only while no payment exists.
	SetPaymentPending(ctx context.Context, id, reference, provider string, at time.Time) (bool, error)
	// SetPaymentStatus moves payment_status from PENDING to the given value.
	SetPaymentStatus(ctx context.Context, id string, to PaymentStatus, at time.Time) (bool, error)
	AppendHistory(ctx context.Context, h StatusHistory) error
	History(ctx context.Context, orderID string) ([]StatusHistory, error)
}

type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (Cart, error)
	UpsertItem(ctx context.Context, userID, productID string, qty int, at time.Time) error
	RemoveItem(ctx context.Context, userID, productID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

type ReviewRepository interface {
	Create(ctx context.Context, r Review) error
	FindByID(ctx context.Context, id string) (Review, error)
	Update(ctx context.Context, r Review) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, userID, productID, orderID string) (bool, error)
	ListByProduct(ctx context.Context, productID string) ([]Review, error)
	Ratings(ctx context.Context, productID string) ([]int, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (User, error)
}

// Repositories is the set of aggregate repositories bound to either the
// plain store handle or an open transaction.
type Repositories struct {
	Products ProductRepository
	Orders   OrderRepository
	Carts    CartRepository
	Reviews  ReviewRepository
	Users    UserRepository
}

type Store interface {
	Repos() Repositories
	// WithTransaction commits when fn returns nil and rolls back on error or panic.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
