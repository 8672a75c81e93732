package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
	"github.com/ariefcatur/go-marketplace-orders/internal/store/memstore"
)

var errDown = errors.New("dependency down")

type memCache struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", false, errDown
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errDown
	}
	c.data[key] = value
	return nil
}

func (c *memCache) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return false, errDown
	}
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errDown
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type enqueued struct {
	job  queue.Job
	opts queue.Options
}

type recQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	fail bool
}

func (q *recQueue) Enqueue(_ context.Context, job queue.Job, opts queue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errDown
	}
	q.jobs = append(q.jobs, enqueued{job: job, opts: opts})
	return nil
}

func (q *recQueue) all() []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueued(nil), q.jobs...)
}

type recEvents struct {
	mu   sync.Mutex
	envs []orders.Envelope
	fail bool
}

func (e *recEvents) Publish(_ context.Context, env orders.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errDown
	}
	e.envs = append(e.envs, env)
	return nil
}

func (e *recEvents) ofType(t string) []orders.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []orders.Envelope
	for _, env := range e.envs {
		if env.EventType == t {
			out = append(out, env)
		}
	}
	return out
}

type recNotifier struct {
	mu            sync.Mutex
	confirmations []notify.OrderDetails
	updates       []notify.StatusUpdate
	payments      []notify.PaymentConfirmation
	fail          bool
}

func (n *recNotifier) SendOrderConfirmation(_ context.Context, _ string, d notify.OrderDetails) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errDown
	}
	n.confirmations = append(n.confirmations, d)
	return nil
}

func (n *recNotifier) SendOrderStatusUpdate(_ context.Context, u notify.StatusUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errDown
	}
	n.updates = append(n.updates, u)
	return nil
}

func (n *recNotifier) SendPaymentConfirmation(_ context.Context, p notify.PaymentConfirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errDown
	}
	n.payments = append(n.payments, p)
	return nil
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []payment.PaymentRequest
	err   error
	ref   string
	gate  chan struct{} // when set, CreatePayment waits for it to close
}

func (g *fakeGateway) Authenticate(context.Context) (string, error) { return "tok", nil }

func (g *fakeGateway) CreatePayment(_ context.Context, req payment.PaymentRequest) (payment.PaymentResult, error) {
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return payment.PaymentResult{}, g.err
	}
	ref := g.ref
	if ref == "" {
		ref = "txn-" + req.Reference
	}
	return payment.PaymentResult{Reference: ref, Status: "PENDING"}, nil
}

type fixture struct {
	svc      *orders.Service
	store    *memstore.Store
	cache    *memCache
	queue    *recQueue
	events   *recEvents
	notifier *recNotifier
	gateway  *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		cache:    newMemCache(),
		queue:    &recQueue{},
		events:   &recEvents{},
		notifier: &recNotifier{},
		gateway:  &fakeGateway{},
	}
	f.svc = orders.NewService(f.store, f.cache, f.queue, f.events, f.notifier, f.gateway, orders.Config{
		ServiceName:       "orders-test",
		CallbackURL:       "http://localhost/payments/webhook",
		PaymentTimeout:    15 * time.Minute,
		LowStockThreshold: 2,
	})

	f.store.PutUser(orders.User{ID: "u1", Email: "ada@example.com", Name: "Ada"})
	f.store.PutUser(orders.User{ID: "u2", Email: "bob@example.com", Name: "Bob"})
	f.store.PutProduct(orders.Product{ID: "p1", StoreID: "s1", Name: "Kettle", Price: decimal.RequireFromString("12.50"), Stock: 5})
	f.store.PutProduct(orders.Product{ID: "p2", StoreID: "s2", Name: "Mug", Price: decimal.NewFromInt(4), Stock: 10})
	f.store.PutProduct(orders.Product{ID: "p3", StoreID: "s2", Name: "Last one", Price: decimal.NewFromInt(9), Stock: 1})
	return f
}

func (f *fixture) product(t *testing.T, id string) orders.Product {
	t.Helper()
	p, err := f.store.Repos().Products.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find product %s: %v", id, err)
	}
	return p
}

func (f *fixture) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := f.store.Repos().Orders.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find order %s: %v", id, err)
	}
	return o
}

func (f *fixture) history(t *testing.T, id string) []orders.StatusHistory {
	t.Helper()
	h, err := f.store.Repos().Orders.History(context.Background(), id)
	if err != nil {
		t.Fatalf("history %s: %v", id, err)
	}
	return h
}

// place creates an order for u1 and fails the test on error.
func (f *fixture) place(t *testing.T, items ...orders.ItemInput) orders.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), "u1", items)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// forceStatus walks an order through admin transitions.
func (f *fixture) forceStatus(t *testing.T, id string, steps ...orders.Status) {
	t.Helper()
	admin := orders.Actor{UserID: "admin-1", Role: orders.RoleAdmin}
	for _, st := range steps {
		if _, err := f.svc.UpdateOrderStatus(context.Background(), id, admin, st); err != nil {
			t.Fatalf("to %s: %v", st, err)
		}
	}
}
