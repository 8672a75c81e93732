package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

const featuredLimit = 12

// ProductWriter is the seller-side catalog write (store.Store, memstore.Store).
type ProductWriter interface {
	UpsertProduct(ctx context.Context, p Product) error
}

// CatalogService serves the featured products listing through the cache and
// applies seller updates.
type CatalogService struct {
	Store  Store
	Cache  Cache
	Writer ProductWriter
}

func (c *CatalogService) Featured(ctx context.Context) ([]Product, error) {
	if raw, ok, err := c.Cache.Get(ctx, redisx.KeyFeaturedProducts); err == nil && ok {
		var ps []Product
		if err := json.Unmarshal([]byte(raw), &ps); err == nil {
			return ps, nil
		}
	}

	ps, err := c.Store.Repos().Products.ListFeatured(ctx, featuredLimit)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []Product{}
	}
	b, err := json.Marshal(ps)
	if err == nil {
		err = c.Cache.Set(ctx, redisx.KeyFeaturedProducts, string(b), redisx.TTLFeatured)
	}
	if err != nil {
		logging.Warn(logging.Fields{Step: "cache.featured"}, err)
	}
	return ps, nil
}

func (c *CatalogService) Product(ctx context.Context, id string) (Product, error) {
	return c.Store.Repos().Products.FindByID(ctx, id)
}

// UpdateProduct creates or replaces a product. Sellers may only touch products
// of their own store; existing order items keep their purchase price.
func (c *CatalogService) UpdateProduct(ctx context.Context, actor Actor, p Product) (Product, error) {
	if p.ID == "" || p.Name == "" || p.Stock < 0 || p.Price.IsNegative() {
		return Product{}, fmt.Errorf("%w: product needs an id, a name, a price >= 0 and stock >= 0", ErrInvalidInput)
	}
	existing, err := c.Store.Repos().Products.FindByID(ctx, p.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Product{}, err
	default:
		p.CreatedAt = existing.CreatedAt
		p.AverageRating = existing.AverageRating
	}

	switch actor.Role {
	case RoleAdmin:
	case RoleSeller:
		if actor.StoreID == "" || (err == nil && existing.StoreID != actor.StoreID) {
			return Product{}, fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
		}
		p.StoreID = actor.StoreID
	default:
		return Product{}, fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
	}

	if err := c.Writer.UpsertProduct(ctx, p); err != nil {
		return Product{}, err
	}
	if err := c.Cache.Del(ctx, redisx.KeyFeaturedProducts); err != nil {
		logging.Warn(logging.Fields{Step: "cache.featured"}, err)
	}
	return c.Store.Repos().Products.FindByID(ctx, p.ID)
}
