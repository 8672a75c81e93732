package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string              `json:"id"`
	StoreID       string              `json:"store_id"`
	Name          string              `json:"name"`
	Price         decimal.Decimal     `json:"price"`
	Stock         int                 `json:"stock"`
	InStock       bool                `json:"in_stock"`
	AverageRating decimal.NullDecimal `json:"average_rating"`
	Featured      bool                `json:"featured"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// MarshalJSON renders the average rating with exactly one decimal ("4.0"),
// or null before the first review.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	var rating *string
	if p.AverageRating.Valid {
		s := p.AverageRating.Decimal.StringFixed(1)
		rating = &s
	}
	return json.Marshal(struct {
		plain
		AverageRating *string `json:"average_rating"`
	}{plain(p), rating})
}

type User struct {
	ID    string
	Email string
	Name  string
}

type Cart struct {
	ID     string     `json:"id,omitempty"`
	UserID string     `json:"user_id"`
	Items  []CartItem `json:"items"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Total            decimal.Decimal `json:"total"`
	Status           Status          `json:"status"`
	PaymentStatus    *PaymentStatus  `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentProvider  string          `json:"payment_provider,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	Items            []OrderItem     `json:"items"`
}

// OrderItem is written once with the order and never updated.
type OrderItem struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type StatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type Review struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemInput is one requested line of a new order.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Actor identifies who asks for a status change. Role and StoreID come from
// the verified token claims.
type Actor struct {
	UserID  string
	Role    string
	StoreID string
}

const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)
