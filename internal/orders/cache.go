package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

// CachedOrder is the read projection of an order kept under order:<id>. It is
// never the source of truth; ownership is re-checked on every read.
type CachedOrder struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Total            decimal.Decimal `json:"total"`
	Status           Status          `json:"status"`
	PaymentStatus    *PaymentStatus  `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	Items            []CachedItem    `json:"items"`
}

type CachedItem struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

func projectOrder(o Order, products map[string]Product) CachedOrder {
	c := CachedOrder{
		ID:               o.ID,
		UserID:           o.UserID,
		Total:            o.Total,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentReference: o.PaymentReference,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		CompletedAt:      o.CompletedAt,
		CancelledAt:      o.CancelledAt,
		Items:            make([]CachedItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		c.Items = append(c.Items, CachedItem{
			ID:              it.ID,
			ProductID:       it.ProductID,
			ProductName:     products[it.ProductID].Name,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	return c
}

// project loads the product summaries for o's items.
func (s *Service) project(ctx context.Context, o Order) (CachedOrder, error) {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	found, err := s.Store.Repos().Products.FindMany(ctx, ids)
	if err != nil {
		return CachedOrder{}, err
	}
	products := make(map[string]Product, len(found))
	for _, p := range found {
		products[p.ID] = p
	}
	return projectOrder(o, products), nil
}

func orderKey(id string) string { return fmt.Sprintf(redisx.KeyOrder, id) }

func (s *Service) cacheOrder(ctx context.Context, c CachedOrder) {
	b, err := json.Marshal(c)
	if err != nil {
		s.warn(ctx, "cache", c.ID, err)
		return
	}
	s.warn(ctx, "cache", c.ID, s.Cache.Set(ctx, orderKey(c.ID), string(b), redisx.TTLOrderCache))
}

// cachedOrder treats lookup errors and undecodable entries as misses.
func (s *Service) cachedOrder(ctx context.Context, id string) (CachedOrder, bool) {
	raw, ok, err := s.Cache.Get(ctx, orderKey(id))
	if err != nil {
		s.warn(ctx, "cache", id, err)
		return CachedOrder{}, false
	}
	if !ok {
		return CachedOrder{}, false
	}
	var c CachedOrder
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.ID != id {
		logging.Warn(logging.Fields{Service: s.Config.ServiceName, OrderID: id, Step: "cache.decode"}, err)
		return CachedOrder{}, false
	}
	return c, true
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	s.warn(ctx, "cache", orderID, s.Cache.Del(ctx, orderKey(orderID)))
}
