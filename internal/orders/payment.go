package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

type PaymentInput struct {
	OrderID string `json:"order_id"`
	Phone   string `json:"phone"`
}

// PaymentCallback is the verified webhook body. ExternalReference echoes the
// order id sent with the cash-in and is optional.
type PaymentCallback struct {
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
}

// ProcessPayment starts a mobile-money cash-in for an unpaid PENDING order.
// A per-order lock is held from the eligibility check until the reference is
// recorded, so at most one cash-in reaches the gateway. The order is only
// touched after the gateway accepted the request.
func (s *Service) ProcessPayment(ctx context.Context, userID string, in PaymentInput) (Order, error) {
	o, err := s.processPayment(ctx, userID, in)
	metrics.RecordOrderOperation("process_payment", err == nil)
	return o, err
}

func (s *Service) processPayment(ctx context.Context, userID string, in PaymentInput) (Order, error) {
	if in.OrderID == "" || in.Phone == "" {
		return Order{}, fmt.Errorf("%w: order_id and phone are required", ErrInvalidInput)
	}
	lock := fmt.Sprintf(redisx.KeyPaymentLock, in.OrderID)
	locked, err := s.Cache.SetNX(ctx, lock, userID, redisx.TTLPaymentLock)
	if err != nil {
		logging.Error(logging.Fields{Service: s.Config.ServiceName, OrderID: in.OrderID, UserID: userID, Step: "payment.lock"}, err)
		return Order{}, ErrPaymentInitiationFailed
	}
	if !locked {
		return Order{}, ErrInvalidOrder
	}
	defer func() {
		s.warn(ctx, "payment.unlock", in.OrderID, s.Cache.Del(context.WithoutCancel(ctx), lock))
	}()

	o, err := s.Store.Repos().Orders.FindByID(ctx, in.OrderID)
	if errors.Is(err, ErrNotFound) {
		return Order{}, ErrInvalidOrder
	}
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID || o.PaymentStatus != nil || o.Status != StatusPending {
		return Order{}, ErrInvalidOrder
	}

	res, err := s.Gateway.CreatePayment(ctx, payment.PaymentRequest{
		Amount:      o.Total,
		Phone:       in.Phone,
		CallbackURL: s.Config.CallbackURL,
		Reference:   o.ID,
	})
	if err != nil {
		logging.Error(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, UserID: userID, Step: "payment.initiate"}, err)
		return Order{}, ErrPaymentInitiationFailed
	}

	now := s.Now()
	ok, err := s.Store.Repos().Orders.SetPaymentPending(ctx, o.ID, res.Reference, s.Config.Provider, now)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		logging.Warn(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, Step: "payment.initiate", Message: "payment already recorded, provider reference " + res.Reference}, nil)
		return Order{}, ErrInvalidOrder
	}

	pending := PaymentPending
	o.PaymentStatus = &pending
	o.PaymentReference = res.Reference
	o.PaymentProvider = s.Config.Provider
	o.UpdatedAt = now

	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventPaymentUpdated, o.ID, PaymentUpdatedPayload{
		OrderID: o.ID, Reference: res.Reference, PaymentStatus: pending, OrderStatus: o.Status,
	})
	return o, nil
}

var errAlreadySettled = errors.New("payment already settled")

// HandlePaymentWebhook reconciles a provider callback. Replays of a settled
// payment are accepted and change nothing.
func (s *Service) HandlePaymentWebhook(ctx context.Context, cb PaymentCallback) error {
	err := s.handlePaymentWebhook(ctx, cb)
	metrics.RecordOrderOperation("payment_webhook", err == nil)
	return err
}

func (s *Service) handlePaymentWebhook(ctx context.Context, cb PaymentCallback) error {
	if cb.Reference == "" {
		return fmt.Errorf("%w: missing reference", ErrInvalidInput)
	}
	var target PaymentStatus
	switch payment.ParseOutcome(cb.Status) {
	case payment.OutcomePaid:
		target = PaymentPaid
	case payment.OutcomeFailed:
		target = PaymentFailed
	default:
		logging.Info(logging.Fields{Service: s.Config.ServiceName, Step: "payment.webhook", Status: cb.Status, Message: "non-final status ignored " + cb.Reference})
		return nil
	}

	o, err := s.Store.Repos().Orders.FindByPaymentReference(ctx, cb.Reference)
	if err != nil {
		return err
	}
	if cb.ExternalReference != "" && cb.ExternalReference != o.ID {
		logging.Warn(logging.Fields{Service: s.Config.ServiceName, OrderID: o.ID, Step: "payment.webhook", Message: "external reference mismatch " + cb.ExternalReference}, nil)
		return fmt.Errorf("%w: external_reference does not match payment %s", ErrInvalidInput, cb.Reference)
	}
	if o.PaymentStatus != nil && o.PaymentStatus.Settled() {
		return nil
	}

	now := s.Now()
	var advanced, refund bool
	var cur Order
	err = s.Store.WithTransaction(ctx, func(ctx context.Context, r Repositories) error {
		var err error
		if cur, err = r.Orders.FindByID(ctx, o.ID); err != nil {
			return err
		}
		ok, err := r.Orders.SetPaymentStatus(ctx, o.ID, target, now)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadySettled
		}
		if target != PaymentPaid {
			return nil
		}
		switch cur.Status {
		case StatusPending:
			if advanced, err = r.Orders.UpdateStatus(ctx, o.ID, StatusPending, StatusProcessing, now); err != nil || !advanced {
				return err
			}
			return r.Orders.AppendHistory(ctx, StatusHistory{
				ID: s.NewID(), OrderID: o.ID, Status: StatusProcessing, Comment: "Payment confirmed", CreatedAt: now,
			})
		case StatusCancelled:
			refund = true
		}
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		return nil
	}
	if err != nil {
		return err
	}

	cur.PaymentStatus = &target
	cur.UpdatedAt = now
	if advanced {
		cur.Status = StatusProcessing
	}

	s.invalidate(ctx, cur.ID)
	s.publish(ctx, EventPaymentUpdated, cur.ID, PaymentUpdatedPayload{
		OrderID: cur.ID, Reference: cb.Reference, PaymentStatus: target, OrderStatus: cur.Status,
	})
	logging.Info(logging.Fields{Service: s.Config.ServiceName, OrderID: cur.ID, Step: "payment.webhook", Status: string(target)})

	if advanced {
		s.publish(ctx, EventOrderStatusChanged, cur.ID, StatusChangedPayload{
			OrderID: cur.ID, From: StatusPending, To: StatusProcessing, ActorID: RoleSystem, Comment: "Payment confirmed",
		})
	}
	if refund {
		metrics.RecordRefundRequired()
		logging.Warn(logging.Fields{Service: s.Config.ServiceName, OrderID: cur.ID, Step: EventRefundRequired, Message: "payment confirmed for a cancelled order"}, nil)
		s.publish(ctx, EventRefundRequired, cur.ID, RefundRequiredPayload{
			OrderID: cur.ID, Reference: cb.Reference, Amount: cur.Total.String(),
		})
		return nil
	}
	if target == PaymentPaid {
		u, err := s.Store.Repos().Users.FindByID(ctx, cur.UserID)
		if err != nil {
			s.warn(ctx, "notify", cur.ID, err)
			return nil
		}
		s.warn(ctx, "notify", cur.ID, s.Notifier.SendPaymentConfirmation(ctx, notify.PaymentConfirmation{
			Email: u.Email, Name: u.Name, OrderID: cur.ID, Reference: cb.Reference, Amount: cur.Total.String(),
		}))
	}
	return nil
}
