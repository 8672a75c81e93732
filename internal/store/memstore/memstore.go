// Package memstore is an in-memory orders.Store. Transactions are serialized
// by a single mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type state struct {
	products map[string]orders.Product
	users    map[string]orders.User
	orders   map[string]orders.Order
	history  map[string][]orders.StatusHistory
	carts    map[string]orders.Cart // by user id
	reviews  map[string]orders.Review
}

func newState() *state {
	return &state{
		products: map[string]orders.Product{},
		users:    map[string]orders.User{},
		orders:   map[string]orders.Order{},
		history:  map[string][]orders.StatusHistory{},
		carts:    map[string]orders.Cart{},
		reviews:  map[string]orders.Review{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.orders {
		v.Items = slices.Clone(v.Items)
		c.orders[k] = v
	}
	for k, v := range s.history {
		c.history[k] = slices.Clone(v)
	}
	for k, v := range s.carts {
		v.Items = slices.Clone(v.Items)
		c.carts[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store { return &Store{data: newState()} }

// PutProduct seeds or overwrites a product, deriving InStock from Stock.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.InStock = p.Stock > 0
	s.data.products[p.ID] = p
}

// UpsertProduct is the seller write path; it keeps the stored rating.
func (s *Store) UpsertProduct(_ context.Context, p orders.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data.products[p.ID]; ok {
		p.AverageRating = cur.AverageRating
		if p.CreatedAt.IsZero() {
			p.CreatedAt = cur.CreatedAt
		}
	}
	p.InStock = p.Stock > 0
	p.UpdatedAt = time.Now().UTC()
	s.data.products[p.ID] = p
	return nil
}

func (s *Store) PutUser(u orders.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

func (s *Store) Repos() orders.Repositories { return s.repos(false) }

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, r orders.Repositories) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s.repos(true))
}

func (s *Store) repos(inTx bool) orders.Repositories {
	b := &base{s: s, inTx: inTx}
	return orders.Repositories{
		Products: &products{b},
		Orders:   &orderRepo{b},
		Carts:    &carts{b},
		Reviews:  &reviews{b},
		Users:    &users{b},
	}
}

type base struct {
	s    *Store
	inTx bool
}

// with runs f against the live state, taking the lock unless a transaction
// already holds it.
func (b *base) with(f func(d *state) error) error {
	if !b.inTx {
		b.s.mu.Lock()
		defer b.s.mu.Unlock()
	}
	return f(b.s.data)
}

func notFound(what string) error { return fmt.Errorf("%s: %w", what, orders.ErrNotFound) }

type products struct{ *base }

func (r *products) FindByID(_ context.Context, id string) (p orders.Product, err error) {
	err = r.with(func(d *state) error {
		var ok bool
		if p, ok = d.products[id]; !ok {
			return notFound("product " + id)
		}
		return nil
	})
	return p, err
}

func (r *products) FindMany(_ context.Context, ids []string) (out []orders.Product, err error) {
	err = r.with(func(d *state) error {
		for _, id := range ids {
			if p, ok := d.products[id]; ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (r *products) ListFeatured(_ context.Context, limit int) (out []orders.Product, err error) {
	err = r.with(func(d *state) error {
		for _, p := range d.products {
			if p.Featured && p.InStock {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].AverageRating, out[j].AverageRating
		if a.Valid != b.Valid {
			return a.Valid
		}
		if !a.Decimal.Equal(b.Decimal) {
			return a.Decimal.GreaterThan(b.Decimal)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *products) DecrementStock(_ context.Context, id string, qty int, at time.Time) (ok bool, err error) {
	err = r.with(func(d *state) error {
		p, found := d.products[id]
		if !found || p.Stock < qty {
			return nil
		}
		p.Stock -= qty
		p.InStock = p.Stock > 0
		p.UpdatedAt = at
		d.products[id] = p
		ok = true
		return nil
	})
	return ok, err
}

func (r *products) IncrementStock(_ context.Context, id string, qty int, at time.Time) error {
	return r.with(func(d *state) error {
		p, ok := d.products[id]
		if !ok {
			return notFound("product " + id)
		}
		p.Stock += qty
		p.InStock = true
		p.UpdatedAt = at
		d.products[id] = p
		return nil
	})
}

// Lock only checks existence; transactions here are already serialized.
func (r *products) Lock(_ context.Context, id string) error {
	return r.with(func(d *state) error {
		if _, ok := d.products[id]; !ok {
			return notFound("product " + id)
		}
		return nil
	})
}

func (r *products) SetAverageRating(_ context.Context, id string, avg decimal.NullDecimal, at time.Time) error {
	return r.with(func(d *state) error {
		p, ok := d.products[id]
		if !ok {
			return notFound("product " + id)
		}
		p.AverageRating = avg
		p.UpdatedAt = at
		d.products[id] = p
		return nil
	})
}

type orderRepo struct{ *base }

func copyOrder(o orders.Order) orders.Order {
	o.Items = slices.Clone(o.Items)
	if o.PaymentStatus != nil {
		ps := *o.PaymentStatus
		o.PaymentStatus = &ps
	}
	return o
}

func (r *orderRepo) Create(_ context.Context, o orders.Order) error {
	return r.with(func(d *state) error {
		if _, dup := d.orders[o.ID]; dup {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		for _, it := range o.Items {
			if _, ok := d.products[it.ProductID]; !ok {
				return fmt.Errorf("order item references unknown product %s", it.ProductID)
			}
		}
		d.orders[o.ID] = copyOrder(o)
		return nil
	})
}

func (r *orderRepo) FindByID(_ context.Context, id string) (o orders.Order, err error) {
	err = r.with(func(d *state) error {
		found, ok := d.orders[id]
		if !ok {
			return notFound("order " + id)
		}
		o = copyOrder(found)
		return nil
	})
	return o, err
}

func (r *orderRepo) FindByPaymentReference(_ context.Context, ref string) (o orders.Order, err error) {
	err = r.with(func(d *state) error {
		for _, found := range d.orders {
			if ref != "" && found.PaymentReference == ref {
				o = copyOrder(found)
				return nil
			}
		}
		return notFound("payment " + ref)
	})
	return o, err
}

func (r *orderRepo) ListByUser(_ context.Context, userID string) (out []orders.Order, err error) {
	err = r.with(func(d *state) error {
		for _, o := range d.orders {
			if o.UserID == userID {
				out = append(out, copyOrder(o))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *orderRepo) UpdateStatus(_ context.Context, id string, from, to orders.Status, at time.Time) (ok bool, err error) {
	err = r.with(func(d *state) error {
		o, found := d.orders[id]
		if !found || o.Status != from {
			return nil
		}
		o.Status = to
		o.UpdatedAt = at
		switch to {
		case orders.StatusCompleted:
			o.CompletedAt = &at
		case orders.StatusCancelled:
			o.CancelledAt = &at
		}
		d.orders[id] = o
		ok = true
		return nil
	})
	return ok, err
}

func (r *orderRepo) SetPaymentPending(_ context.Context, id, reference, provider string, at time.Time) (ok bool, err error) {
	err = r.with(func(d *state) error {
		o, found := d.orders[id]
		if !found || o.PaymentStatus != nil {
			return nil
		}
		ps := orders.PaymentPending
		o.PaymentStatus = &ps
		o.PaymentReference = reference
		o.PaymentProvider = provider
		o.UpdatedAt = at
		d.orders[id] = o
		ok = true
		return nil
	})
	return ok, err
}

func (r *orderRepo) SetPaymentStatus(_ context.Context, id string, to orders.PaymentStatus, at time.Time) (ok bool, err error) {
	err = r.with(func(d *state) error {
		o, found := d.orders[id]
		if !found || o.PaymentStatus == nil || *o.PaymentStatus != orders.PaymentPending {
			return nil
		}
		o.PaymentStatus = &to
		o.UpdatedAt = at
		d.orders[id] = o
		ok = true
		return nil
	})
	return ok, err
}

func (r *orderRepo) AppendHistory(_ context.Context, h orders.StatusHistory) error {
	return r.with(func(d *state) error {
		if _, ok := d.orders[h.OrderID]; !ok {
			return notFound("order " + h.OrderID)
		}
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		d.history[h.OrderID] = append(d.history[h.OrderID], h)
		return nil
	})
}

func (r *orderRepo) History(_ context.Context, orderID string) (out []orders.StatusHistory, err error) {
	err = r.with(func(d *state) error {
		out = slices.Clone(d.history[orderID])
		return nil
	})
	return out, err
}

type carts struct{ *base }

func (r *carts) FindByUser(_ context.Context, userID string) (c orders.Cart, err error) {
	err = r.with(func(d *state) error {
		found, ok := d.carts[userID]
		if !ok {
			return notFound("cart of " + userID)
		}
		c = found
		c.Items = slices.Clone(found.Items)
		return nil
	})
	return c, err
}

func (r *carts) UpsertItem(_ context.Context, userID, productID string, qty int, _ time.Time) error {
	return r.with(func(d *state) error {
		c, ok := d.carts[userID]
		if !ok {
			c = orders.Cart{ID: uuid.NewString(), UserID: userID}
		}
		c.Items = slices.Clone(c.Items)
		i := slices.IndexFunc(c.Items, func(it orders.CartItem) bool { return it.ProductID == productID })
		if i >= 0 {
			c.Items[i].Quantity = qty
		} else {
			c.Items = append(c.Items, orders.CartItem{ProductID: productID, Quantity: qty})
		}
		d.carts[userID] = c
		return nil
	})
}

func (r *carts) RemoveItem(_ context.Context, userID, productID string) error {
	return r.with(func(d *state) error {
		c, ok := d.carts[userID]
		if !ok {
			return notFound("cart item " + productID)
		}
		i := slices.IndexFunc(c.Items, func(it orders.CartItem) bool { return it.ProductID == productID })
		if i < 0 {
			return notFound("cart item " + productID)
		}
		c.Items = slices.Delete(slices.Clone(c.Items), i, i+1)
		d.carts[userID] = c
		return nil
	})
}

func (r *carts) DeleteByUser(_ context.Context, userID string) error {
	return r.with(func(d *state) error {
		delete(d.carts, userID)
		return nil
	})
}

type reviews struct{ *base }

func (r *reviews) Create(_ context.Context, rv orders.Review) error {
	return r.with(func(d *state) error {
		for _, x := range d.reviews {
			if x.UserID == rv.UserID && x.ProductID == rv.ProductID && x.OrderID == rv.OrderID {
				return fmt.Errorf("duplicate review for %s/%s/%s", rv.UserID, rv.ProductID, rv.OrderID)
			}
		}
		d.reviews[rv.ID] = rv
		return nil
	})
}

func (r *reviews) FindByID(_ context.Context, id string) (rv orders.Review, err error) {
	err = r.with(func(d *state) error {
		var ok bool
		if rv, ok = d.reviews[id]; !ok {
			return notFound("review " + id)
		}
		return nil
	})
	return rv, err
}

func (r *reviews) Update(_ context.Context, rv orders.Review) error {
	return r.with(func(d *state) error {
		cur, ok := d.reviews[rv.ID]
		if !ok {
			return notFound("review " + rv.ID)
		}
		cur.Rating, cur.Comment, cur.UpdatedAt = rv.Rating, rv.Comment, rv.UpdatedAt
		d.reviews[rv.ID] = cur
		return nil
	})
}

func (r *reviews) Delete(_ context.Context, id string) error {
	return r.with(func(d *state) error {
		if _, ok := d.reviews[id]; !ok {
			return notFound("review " + id)
		}
		delete(d.reviews, id)
		return nil
	})
}

func (r *reviews) Exists(_ context.Context, userID, productID, orderID string) (found bool, err error) {
	err = r.with(func(d *state) error {
		for _, x := range d.reviews {
			if x.UserID == userID && x.ProductID == productID && x.OrderID == orderID {
				found = true
			}
		}
		return nil
	})
	return found, err
}

func (r *reviews) ListByProduct(_ context.Context, productID string) (out []orders.Review, err error) {
	err = r.with(func(d *state) error {
		for _, x := range d.reviews {
			if x.ProductID == productID {
				out = append(out, x)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *reviews) Ratings(_ context.Context, productID string) (out []int, err error) {
	err = r.with(func(d *state) error {
		for _, x := range d.reviews {
			if x.ProductID == productID {
				out = append(out, x.Rating)
			}
		}
		return nil
	})
	return out, err
}

type users struct{ *base }

func (r *users) FindByID(_ context.Context, id string) (u orders.User, err error) {
	err = r.with(func(d *state) error {
		var ok bool
		if u, ok = d.users[id]; !ok {
			return notFound("user " + id)
		}
		return nil
	})
	return u, err
}
