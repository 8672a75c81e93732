package orders_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

func (f *fixture) pay(t *testing.T, o orders.Order) string {
	t.Helper()
	got, err := f.svc.ProcessPayment(context.Background(), o.UserID, orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
	require.NoError(t, err)
	return got.PaymentReference
}

// payAndConfirm pays for o and delivers a successful webhook for it.
func (f *fixture) payAndConfirm(t *testing.T, o orders.Order) {
	t.Helper()
	ref := f.pay(t, o)
	require.NoError(t, f.svc.HandlePaymentWebhook(context.Background(), orders.PaymentCallback{Reference: ref, ExternalReference: o.ID, Status: "SUCCESSFUL"}))
}

func TestProcessPaymentGatewayFailureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	f.gateway.err = errDown

	_, err := f.svc.ProcessPayment(context.Background(), "u1", orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
	assert.ErrorIs(t, err, orders.ErrPaymentInitiationFailed)

	got := f.order(t, o.ID)
	assert.Nil(t, got.PaymentStatus)
	assert.Empty(t, got.PaymentReference)
	assert.Empty(t, f.events.ofType(orders.EventPaymentUpdated))

	// the lock is released, so the customer can try again
	assert.False(t, f.cache.has("payment:lock:"+o.ID))
	f.gateway.err = nil
	assert.Equal(t, "txn-"+o.ID, f.pay(t, o))
}

func TestConcurrentPaymentsReachGatewayOnce(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	f.gateway.gate = make(chan struct{})

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.svc.ProcessPayment(context.Background(), "u1", orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
			errs <- err
		}()
	}

	// everyone but the lock holder is turned away while the cash-in is in flight
	for i := 0; i < n-1; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, orders.ErrInvalidOrder)
		case <-time.After(2 * time.Second):
			t.Fatal("concurrent payment requests reached the gateway")
		}
	}
	close(f.gateway.gate)
	require.NoError(t, <-errs)

	assert.Len(t, f.gateway.calls, 1)
	got := f.order(t, o.ID)
	require.NotNil(t, got.PaymentStatus)
	assert.Equal(t, orders.PaymentPending, *got.PaymentStatus)
	assert.Equal(t, "txn-"+o.ID, got.PaymentReference)
	assert.False(t, f.cache.has("payment:lock:"+o.ID))
}

func TestProcessPaymentMarksPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 2})

	got, err := f.svc.ProcessPayment(ctx, "u1", orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
	require.NoError(t, err)
	require.NotNil(t, got.PaymentStatus)
	assert.Equal(t, orders.PaymentPending, *got.PaymentStatus)
	assert.Equal(t, "txn-"+o.ID, got.PaymentReference)

	require.Len(t, f.gateway.calls, 1)
	assert.True(t, o.Total.Equal(f.gateway.calls[0].Amount))
	assert.Equal(t, o.ID, f.gateway.calls[0].Reference)
	assert.Equal(t, f.svc.Config.CallbackURL, f.gateway.calls[0].CallbackURL)

	stored := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPending, stored.Status)
	assert.Equal(t, "mobile-money", stored.PaymentProvider)
	assert.False(t, f.cache.has("order:"+o.ID))
	assert.Len(t, f.events.ofType(orders.EventPaymentUpdated), 1)

	_, err = f.svc.ProcessPayment(ctx, "u1", orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)
	assert.Len(t, f.gateway.calls, 1, "no second charge for the same order")
}

func TestProcessPaymentEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})

	_, err := f.svc.ProcessPayment(ctx, "u1", orders.PaymentInput{OrderID: o.ID})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.ProcessPayment(ctx, "u2", orders.PaymentInput{OrderID: o.ID, Phone: "1"})
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)

	_, err = f.svc.ProcessPayment(ctx, "u1", orders.PaymentInput{OrderID: "missing", Phone: "1"})
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)

	_, err = f.svc.CancelOrder(ctx, o.ID, "u1")
	require.NoError(t, err)
	_, err = f.svc.ProcessPayment(ctx, "u1", orders.PaymentInput{OrderID: o.ID, Phone: "1"})
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)
	assert.Empty(t, f.gateway.calls)
}

func TestProcessPaymentFailsClosedWithoutLock(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	f.cache.fail = true

	_, err := f.svc.ProcessPayment(context.Background(), "u1", orders.PaymentInput{OrderID: o.ID, Phone: "237670000000"})
	assert.ErrorIs(t, err, orders.ErrPaymentInitiationFailed)
	assert.Empty(t, f.gateway.calls)
	assert.Nil(t, f.order(t, o.ID).PaymentStatus)
}

func TestWebhookPaidAdvancesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	ref := f.pay(t, o)

	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, ExternalReference: o.ID, Status: "SUCCESSFUL"}))

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	require.NotNil(t, got.PaymentStatus)
	assert.Equal(t, orders.PaymentPaid, *got.PaymentStatus)

	h := f.history(t, o.ID)
	require.Len(t, h, 2)
	assert.Equal(t, orders.StatusProcessing, h[1].Status)
	assert.Equal(t, "Payment confirmed", h[1].Comment)

	assert.Len(t, f.events.ofType(orders.EventOrderStatusChanged), 1)
	require.Len(t, f.notifier.payments, 1)
	assert.Equal(t, ref, f.notifier.payments[0].Reference)

	// replay is accepted and changes nothing
	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "SUCCESSFUL"}))
	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "FAILED"}))
	assert.Len(t, f.history(t, o.ID), 2)
	assert.Equal(t, orders.PaymentPaid, *f.order(t, o.ID).PaymentStatus)
	assert.Len(t, f.notifier.payments, 1)

	// paid orders can complete
	f.forceStatus(t, o.ID, orders.StatusCompleted)
	got = f.order(t, o.ID)
	assert.Equal(t, orders.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestWebhookRejectsMismatchedExternalReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	other := f.place(t, orders.ItemInput{ProductID: "p2", Quantity: 1})
	ref := f.pay(t, o)

	err := f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, ExternalReference: other.ID, Status: "SUCCESSFUL"})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, orders.PaymentPending, *got.PaymentStatus)
	assert.Len(t, f.history(t, o.ID), 1)

	// callbacks that omit the echo still reconcile by reference
	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "SUCCESSFUL"}))
	assert.Equal(t, orders.StatusProcessing, f.order(t, o.ID).Status)
}

func TestWebhookFailedKeepsOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	ref := f.pay(t, o)

	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "FAILED"}))
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, orders.PaymentFailed, *got.PaymentStatus)
	assert.Len(t, f.history(t, o.ID), 1)
	assert.Empty(t, f.notifier.payments)
}

func TestWebhookIgnoresNonFinalAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	ref := f.pay(t, o)

	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "PENDING"}))
	assert.Equal(t, orders.PaymentPending, *f.order(t, o.ID).PaymentStatus)

	err := f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: "txn-unknown", Status: "SUCCESSFUL"})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	err = f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Status: "SUCCESSFUL"})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
}

func TestWebhookPaidOnCancelledOrderFlagsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, orders.ItemInput{ProductID: "p1", Quantity: 1})
	ref := f.pay(t, o)
	_, err := f.svc.CancelOrder(ctx, o.ID, "u1")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, orders.PaymentCallback{Reference: ref, Status: "SUCCESSFUL"}))

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.PaymentPaid, *got.PaymentStatus)

	refunds := f.events.ofType(orders.EventRefundRequired)
	require.Len(t, refunds, 1)
	var payload orders.RefundRequiredPayload
	require.NoError(t, json.Unmarshal(refunds[0].Payload, &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, ref, payload.Reference)
	assert.Empty(t, f.notifier.payments)
}
