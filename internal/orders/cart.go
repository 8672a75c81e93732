package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CartService manages the single pre-order cart of each user. Checkout lives
// on Service because it creates the order.
type CartService struct {
	Store Store
	Now   func() time.Time
}

func NewCartService(store Store) *CartService {
	return &CartService{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Get returns an empty cart when the user has none yet.
func (c *CartService) Get(ctx context.Context, userID string) (Cart, error) {
	cart, err := c.Store.Repos().Carts.FindByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Cart{UserID: userID, Items: []CartItem{}}, nil
	}
	return cart, err
}

// SetItem sets the quantity of one product line. Stock is checked here as a
// courtesy; checkout checks it again.
func (c *CartService) SetItem(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	if productID == "" || qty <= 0 {
		return Cart{}, fmt.Errorf("%w: product_id and a positive quantity are required", ErrInvalidInput)
	}
	p, err := c.Store.Repos().Products.FindByID(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return Cart{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return Cart{}, err
	}
	if qty > p.Stock {
		return Cart{}, &InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
	}
	if err := c.Store.Repos().Carts.UpsertItem(ctx, userID, productID, qty, c.Now()); err != nil {
		return Cart{}, err
	}
	return c.Get(ctx, userID)
}

func (c *CartService) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	if err := c.Store.Repos().Carts.RemoveItem(ctx, userID, productID); err != nil {
		return Cart{}, err
	}
	return c.Get(ctx, userID)
}

func (c *CartService) Clear(ctx context.Context, userID string) error {
	return c.Store.Repos().Carts.DeleteByUser(ctx, userID)
}
