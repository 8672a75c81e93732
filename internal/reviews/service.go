// Package reviews writes product reviews and keeps each product's average
// rating in step with them inside the same transaction.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

type Input struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type Service struct {
	Store orders.Store
	Cache orders.Cache
	Now   func() time.Time
	NewID func() string
}

func NewService(store orders.Store, cache orders.Cache) *Service {
	return &Service{
		Store: store,
		Cache: cache,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

func validRating(r int) error {
	if r < 1 || r > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", orders.ErrInvalidInput)
	}
	return nil
}

// Average is the mean rating rounded to one decimal, or null without ratings.
func Average(ratings []int) decimal.NullDecimal {
	if len(ratings) == 0 {
		return decimal.NullDecimal{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	avg := decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(len(ratings)))).Round(1)
	return decimal.NewNullDecimal(avg)
}

// recompute locks the product first so concurrent review writes on it
// average one after the other, each seeing the rows the other committed.
func (s *Service) recompute(ctx context.Context, r orders.Repositories, productID string, at time.Time) error {
	if err := r.Products.Lock(ctx, productID); err != nil {
		return err
	}
	ratings, err := r.Reviews.Ratings(ctx, productID)
	if err != nil {
		return err
	}
	return r.Products.SetAverageRating(ctx, productID, Average(ratings), at)
}

// Create accepts one review per product of a completed order the user owns.
func (s *Service) Create(ctx context.Context, userID string, in Input) (orders.Review, error) {
	if err := validRating(in.Rating); err != nil {
		return orders.Review{}, err
	}
	now := s.Now()
	rv := orders.Review{
		ID: s.NewID(), UserID: userID, ProductID: in.ProductID, OrderID: in.OrderID,
		Rating: in.Rating, Comment: in.Comment, CreatedAt: now, UpdatedAt: now,
	}
	err := s.Store.WithTransaction(ctx, func(ctx context.Context, r orders.Repositories) error {
		o, err := r.Orders.FindByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != userID || o.Status != orders.StatusCompleted || !contains(o, in.ProductID) {
			return fmt.Errorf("reviewable order %s: %w", in.OrderID, orders.ErrNotFound)
		}
		exists, err := r.Reviews.Exists(ctx, userID, in.ProductID, in.OrderID)
		if err != nil {
			return err
		}
		if exists {
			return orders.ErrAlreadyReviewed
		}
		if err := r.Reviews.Create(ctx, rv); err != nil {
			return err
		}
		return s.recompute(ctx, r, in.ProductID, now)
	})
	s.done(ctx, "review.create", rv.ProductID, err)
	if err != nil {
		return orders.Review{}, err
	}
	return rv, nil
}

func (s *Service) Update(ctx context.Context, userID, reviewID string, rating int, comment string) (orders.Review, error) {
	if err := validRating(rating); err != nil {
		return orders.Review{}, err
	}
	var rv orders.Review
	err := s.Store.WithTransaction(ctx, func(ctx context.Context, r orders.Repositories) error {
		var err error
		if rv, err = s.owned(ctx, r, userID, reviewID); err != nil {
			return err
		}
		rv.Rating, rv.Comment, rv.UpdatedAt = rating, comment, s.Now()
		if err := r.Reviews.Update(ctx, rv); err != nil {
			return err
		}
		return s.recompute(ctx, r, rv.ProductID, rv.UpdatedAt)
	})
	s.done(ctx, "review.update", rv.ProductID, err)
	if err != nil {
		return orders.Review{}, err
	}
	return rv, nil
}

func (s *Service) Delete(ctx context.Context, userID, reviewID string) error {
	var productID string
	err := s.Store.WithTransaction(ctx, func(ctx context.Context, r orders.Repositories) error {
		rv, err := s.owned(ctx, r, userID, reviewID)
		if err != nil {
			return err
		}
		productID = rv.ProductID
		if err := r.Reviews.Delete(ctx, reviewID); err != nil {
			return err
		}
		return s.recompute(ctx, r, rv.ProductID, s.Now())
	})
	s.done(ctx, "review.delete", productID, err)
	return err
}

func (s *Service) ListByProduct(ctx context.Context, productID string) ([]orders.Review, error) {
	return s.Store.Repos().Reviews.ListByProduct(ctx, productID)
}

func (s *Service) owned(ctx context.Context, r orders.Repositories, userID, reviewID string) (orders.Review, error) {
	rv, err := r.Reviews.FindByID(ctx, reviewID)
	if err != nil {
		return orders.Review{}, err
	}
	if rv.UserID != userID {
		return orders.Review{}, fmt.Errorf("review %s: %w", reviewID, orders.ErrNotFound)
	}
	return rv, nil
}

// done records the outcome and, after a commit, drops the featured listing
// whose order depends on ratings.
func (s *Service) done(ctx context.Context, op, productID string, err error) {
	metrics.RecordOrderOperation(op, err == nil)
	if err != nil {
		if !errors.Is(err, orders.ErrNotFound) && !errors.Is(err, orders.ErrAlreadyReviewed) {
			logging.Error(logging.Fields{Step: op, Extra: map[string]any{"product_id": productID}}, err)
		}
		return
	}
	if derr := s.Cache.Del(ctx, redisx.KeyFeaturedProducts); derr != nil {
		metrics.RecordSideEffectFailure("cache")
		logging.Warn(logging.Fields{Step: op, Message: "featured cache invalidation"}, derr)
	}
}

func contains(o orders.Order, productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}
