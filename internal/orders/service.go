package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
)

// Cache is the key/value side of the cache layer (redisx.Cache in production).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type Config struct {
	ServiceName       string
	Provider          string
	CallbackURL       string
	PaymentTimeout    time.Duration
	LowStockThreshold int
}

// Service is the order workflow engine. Each operation commits its core
// change in one store transaction; cache, queue, event and notification
// work after the commit is best effort and only logged on failure.
type Service struct {
	Store    Store
	Cache    Cache
	Queue    queue.Queue
	Events   EventPublisher
	Notifier notify.Notifier
	Gateway  payment.Gateway
	Config   Config

	Now   func() time.Time
	NewID func() string
}

func NewService(store Store, cache Cache, q queue.Queue, events EventPublisher, n notify.Notifier, gw payment.Gateway, cfg Config) *Service {
	if cfg.Provider == "" {
		cfg.Provider = payment.ProviderMobileMoney
	}
	return &Service{
		Store:    store,
		Cache:    cache,
		Queue:    q,
		Events:   events,
		Notifier: n,
		Gateway:  gw,
		Config:   cfg,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

type traceKey struct{}

// WithTraceID tags ctx so events published while serving it carry the id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func orderNotFound(id string) error { return fmt.Errorf("order %s: %w", id, ErrNotFound) }

// CreateOrder validates stock, then writes the order, its items, the first
// history row and the stock decrements in one transaction.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []ItemInput) (Order, error) {
	o, err := s.createOrder(ctx, userID, items, nil)
	metrics.RecordOrderOperation("create", err == nil)
	return o, err
}

// Checkout turns the user's cart into an order and deletes the cart in the
// same transaction.
func (s *Service) Checkout(ctx context.Context, userID string) (Order, error) {
	o, err := s.checkout(ctx, userID)
	metrics.RecordOrderOperation("checkout", err == nil)
	return o, err
}

func (s *Service) checkout(ctx context.Context, userID string) (Order, error) {
	cart, err := s.Store.Repos().Carts.FindByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) || (err == nil && len(cart.Items) == 0) {
		return Order{}, ErrEmptyCart
	}
	if err != nil {
		return Order{}, err
	}
	items := make([]ItemInput, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, ItemInput(it))
	}
	return s.createOrder(ctx, userID, items, func(ctx context.Context, r Repositories) error {
		return r.Carts.DeleteByUser(ctx, userID)
	})
}

// mergeItems validates the requested lines and folds duplicate products.
func mergeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidInput)
	}
	idx := make(map[string]int, len(items))
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a product_id and a positive quantity", ErrInvalidInput)
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

var errStockRace = errors.New("stock changed during checkout")

func (s *Service) createOrder(ctx context.Context, userID string, items []ItemInput, inTx func(ctx context.Context, r Repositories) error) (Order, error) {
	if userID == "" {
		return Order{}, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	lines, err := mergeItems(items)
	if err != nil {
		return Order{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	found, err := s.Store.Repos().Products.FindMany(ctx, ids)
	if err != nil {
		return Order{}, err
	}
	products := make(map[string]Product, len(found))
	for _, p := range found {
		products[p.ID] = p
	}

	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		if l.Quantity > p.Stock {
			return Order{}, &InsufficientStockError{ProductID: p.ID, Requested: l.Quantity, Available: p.Stock}
		}
	}

	now := s.Now()
	o := Order{
		ID:        s.NewID(),
		UserID:    userID,
		Status:    StatusPending,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, l := range lines {
		price := products[l.ProductID].Price
		o.Items = append(o.Items, OrderItem{
			ID:              s.NewID(),
			OrderID:         o.ID,
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: price,
		})
		o.Total = o.Total.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	err = s.Store.WithTransaction(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Orders.Create(ctx, o); err != nil {
			return err
		}
		if err := r.Orders.AppendHistory(ctx, StatusHistory{
			ID: s.NewID(), OrderID: o.ID, Status: StatusPending, Comment: "Order created", CreatedAt: now,
		}); err != nil {
			return err
		}
		for _, it := range o.Items {
			ok, err := r.Products.DecrementStock(ctx, it.ProductID, it.Quantity, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: product %s", errStockRace, it.ProductID)
			}
		}
		if inTx != nil {
			return inTx(ctx, r)
		}
		return nil
	})
	if err != nil {
		logging.Error(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, UserID: userID, Step: "order.create"}, err)
		return Order{}, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}

	logging.Info(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, UserID: userID, Step: "order.create", Status: string(o.Status)})
	s.afterCreate(ctx, o, products)
	return o, nil
}

func (s *Service) afterCreate(ctx context.Context, o Order, products map[string]Product) {
	s.warn(ctx, "queue", o.ID, s.Queue.Enqueue(ctx, queue.ProcessOrder{OrderID: o.ID, UserID: o.UserID}, queue.DefaultOptions()))
	if s.Config.PaymentTimeout > 0 {
		opts := queue.DefaultOptions()
		opts.Delay = s.Config.PaymentTimeout
		s.warn(ctx, "queue", o.ID, s.Queue.Enqueue(ctx, queue.ExpireUnpaidOrder{OrderID: o.ID}, opts))
	}

	s.cacheOrder(ctx, projectOrder(o, products))

	payload := OrderCreatedPayload{OrderID: o.ID, UserID: o.UserID, Total: o.Total.String()}
	for _, it := range o.Items {
		payload.Items = append(payload.Items, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.PriceAtPurchase.String()})
	}
	s.publish(ctx, EventOrderCreated, o.ID, payload)

	u, err := s.Store.Repos().Users.FindByID(ctx, o.UserID)
	if err != nil {
		s.warn(ctx, "notify", o.ID, err)
		return
	}
	details := notify.OrderDetails{OrderID: o.ID, CustomerName: u.Name, Total: o.Total.String(), CreatedAt: o.CreatedAt}
	for _, it := range o.Items {
		details.Items = append(details.Items, notify.Line{
			ProductID: it.ProductID,
			Name:      products[it.ProductID].Name,
			Quantity:  it.Quantity,
			Price:     it.PriceAtPurchase.String(),
		})
	}
	s.warn(ctx, "notify", o.ID, s.Notifier.SendOrderConfirmation(ctx, u.Email, details))
}

// CancelOrder is the customer cancellation: only the owner, only while PENDING.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (Order, error) {
	o, err := s.cancelOrder(ctx, orderID, userID)
	metrics.RecordOrderOperation("cancel", err == nil)
	return o, err
}

func (s *Service) cancelOrder(ctx context.Context, orderID, userID string) (Order, error) {
	o, err := s.Store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, orderNotFound(orderID)
	}
	if o.Status != StatusPending {
		return Order{}, invalidTransition(o.Status, StatusCancelled)
	}
	return s.cancel(ctx, o, userID, "Order cancelled by customer")
}

// cancel restores stock and moves the order to CANCELLED. The status update is
// conditional on PENDING so a concurrent transition is never overwritten.
func (s *Service) cancel(ctx context.Context, o Order, actorID, comment string) (Order, error) {
	now := s.Now()
	err := s.Store.WithTransaction(ctx, func(ctx context.Context, r Repositories) error {
		ok, err := r.Orders.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return invalidTransitionf("order %s is no longer %s", o.ID, StatusPending)
		}
		for _, it := range o.Items {
			if err := r.Products.IncrementStock(ctx, it.ProductID, it.Quantity, now); err != nil {
				return err
			}
		}
		return r.Orders.AppendHistory(ctx, StatusHistory{
			ID: s.NewID(), OrderID: o.ID, Status: StatusCancelled, Comment: comment, CreatedAt: now,
		})
	})
	if err != nil {
		return Order{}, err
	}

	from := o.Status
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	s.afterStatusChange(ctx, o, from, actorID, comment)
	return o, nil
}

// UpdateOrderStatus applies an explicit transition requested by the owner,
// an admin, or a seller whose store has a product in the order.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, actor Actor, to Status) (Order, error) {
	o, err := s.updateOrderStatus(ctx, orderID, actor, to)
	metrics.RecordOrderOperation("update_status", err == nil)
	return o, err
}

func (s *Service) updateOrderStatus(ctx context.Context, orderID string, actor Actor, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	o, err := s.Store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	allowed, err := s.canAct(ctx, actor, o)
	if err != nil {
		return Order{}, err
	}
	if !allowed {
		return Order{}, orderNotFound(orderID)
	}
	if err := checkTransition(o, to); err != nil {
		return Order{}, err
	}

	comment := fmt.Sprintf("Order status updated from %s to %s", o.Status, to)
	if to == StatusCancelled {
		return s.cancel(ctx, o, actor.UserID, comment)
	}

	now := s.Now()
	err = s.Store.WithTransaction(ctx, func(ctx context.Context, r Repositories) error {
		ok, err := r.Orders.UpdateStatus(ctx, o.ID, o.Status, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return invalidTransitionf("order %s changed while updating to %s", o.ID, to)
		}
		return r.Orders.AppendHistory(ctx, StatusHistory{
			ID: s.NewID(), OrderID: o.ID, Status: to, Comment: comment, CreatedAt: now,
		})
	})
	if err != nil {
		return Order{}, err
	}

	from := o.Status
	o.Status = to
	o.UpdatedAt = now
	if to == StatusCompleted {
		o.CompletedAt = &now
	}
	s.afterStatusChange(ctx, o, from, actor.UserID, comment)
	return o, nil
}

func (s *Service) canAct(ctx context.Context, actor Actor, o Order) (bool, error) {
	switch {
	case actor.UserID != "" && actor.UserID == o.UserID:
		return true, nil
	case actor.Role == RoleAdmin || actor.Role == RoleSystem:
		return true, nil
	case actor.Role == RoleSeller && actor.StoreID != "":
		ids := make([]string, 0, len(o.Items))
		for _, it := range o.Items {
			ids = append(ids, it.ProductID)
		}
		ps, err := s.Store.Repos().Products.FindMany(ctx, ids)
		if err != nil {
			return false, err
		}
		for _, p := range ps {
			if p.StoreID == actor.StoreID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Service) afterStatusChange(ctx context.Context, o Order, from Status, actorID, comment string) {
	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventOrderStatusChanged, o.ID, StatusChangedPayload{
		OrderID: o.ID, From: from, To: o.Status, ActorID: actorID, Comment: comment,
	})
	logging.Info(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, UserID: actorID, Step: "order.status", Status: string(o.Status), Message: comment})

	u, err := s.Store.Repos().Users.FindByID(ctx, o.UserID)
	if err != nil {
		s.warn(ctx, "notify", o.ID, err)
		return
	}
	s.warn(ctx, "notify", o.ID, s.Notifier.SendOrderStatusUpdate(ctx, notify.StatusUpdate{
		Email: u.Email, Name: u.Name, OrderID: o.ID, From: string(from), To: string(o.Status),
	}))
}

// GetOrderByID serves the cached projection when it belongs to the caller and
// falls back to the store otherwise, refreshing the cache.
func (s *Service) GetOrderByID(ctx context.Context, orderID, userID string) (CachedOrder, error) {
	if c, ok := s.cachedOrder(ctx, orderID); ok && c.UserID == userID {
		return c, nil
	}

	o, err := s.Store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return CachedOrder{}, err
	}
	if o.UserID != userID {
		return CachedOrder{}, orderNotFound(orderID)
	}
	view, err := s.project(ctx, o)
	if err != nil {
		return CachedOrder{}, err
	}
	s.cacheOrder(ctx, view)
	return view, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	out, err := s.Store.Repos().Orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) OrderHistory(ctx context.Context, orderID, userID string) ([]StatusHistory, error) {
	o, err := s.Store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, orderNotFound(orderID)
	}
	return s.Store.Repos().Orders.History(ctx, orderID)
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	env := Envelope{
		EventID:       s.NewID(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.Now(),
		Producer:      s.Config.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.warn(ctx, "event", orderID, s.Events.Publish(ctx, env))
}

// warn records a failed best-effort step; nil errors are ignored.
func (s *Service) warn(_ context.Context, step, orderID string, err error) {
	if err == nil {
		return
	}
	metrics.RecordSideEffectFailure(step)
	logging.Warn(logging.Fields{Service: s.Config.ServiceName, OrderID: orderID, Step: step}, err)
}
