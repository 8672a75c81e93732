package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
)

// JobHandler runs the queued follow-ups of the workflow. Jobs can arrive after
// the order moved on; such stale jobs are logged and acknowledged.
type JobHandler struct {
	Svc *Service
}

var _ queue.Handler = (*JobHandler)(nil)

func (h *JobHandler) stale(orderID, step string, o Order) {
	logging.Info(logging.Fields{Service: h.Svc.Config.ServiceName, OrderID: orderID, Step: step, Status: string(o.Status), Message: "order no longer actionable, job skipped"})
}

// ProcessOrder warms the projection, announces processing and flags products
// that the order pushed to or below the low-stock threshold.
func (h *JobHandler) ProcessOrder(ctx context.Context, j queue.ProcessOrder) error {
	s := h.Svc
	o, err := s.Store.Repos().Orders.FindByID(ctx, j.OrderID)
	if errors.Is(err, ErrNotFound) {
		h.stale(j.OrderID, "job.process_order", o)
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		h.stale(j.OrderID, "job.process_order", o)
		return nil
	}

	view, err := s.project(ctx, o)
	if err != nil {
		return err
	}
	s.cacheOrder(ctx, view)
	s.publish(ctx, EventOrderProcessingStarted, o.ID, ProcessingStartedPayload{OrderID: o.ID, UserID: o.UserID})

	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	ps, err := s.Store.Repos().Products.FindMany(ctx, ids)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if p.Stock <= s.Config.LowStockThreshold {
			s.publish(ctx, EventLowStock, o.ID, LowStockPayload{
				ProductID: p.ID, StoreID: p.StoreID, Stock: p.Stock, Threshold: s.Config.LowStockThreshold,
			})
		}
	}
	logging.Info(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, UserID: j.UserID, Step: "job.process_order", Status: "done"})
	return nil
}

// ExpireUnpaidOrder cancels an order whose payment never started or failed.
// An order with a payment still in flight is left for the webhook.
func (h *JobHandler) ExpireUnpaidOrder(ctx context.Context, j queue.ExpireUnpaidOrder) error {
	s := h.Svc
	o, err := s.Store.Repos().Orders.FindByID(ctx, j.OrderID)
	if errors.Is(err, ErrNotFound) {
		h.stale(j.OrderID, "job.expire_unpaid", o)
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status != StatusPending || (o.PaymentStatus != nil && *o.PaymentStatus != PaymentFailed) {
		h.stale(j.OrderID, "job.expire_unpaid", o)
		return nil
	}

	_, err = s.cancel(ctx, o, RoleSystem, "Order cancelled: payment not received in time")
	if errors.Is(err, ErrInvalidTransition) {
		h.stale(j.OrderID, "job.expire_unpaid", o)
		return nil
	}
	return err
}
