package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
)

type recorder struct {
	processed []queue.ProcessOrder
	expired   []queue.ExpireUnpaidOrder
}

func (r *recorder) ProcessOrder(_ context.Context, j queue.ProcessOrder) error {
	r.processed = append(r.processed, j)
	return nil
}

func (r *recorder) ExpireUnpaidOrder(_ context.Context, j queue.ExpireUnpaidOrder) error {
	r.expired = append(r.expired, j)
	return nil
}

func TestEnvelopeRoundTripDispatch(t *testing.T) {
	env, err := queue.NewEnvelope(queue.ProcessOrder{OrderID: "o-1", UserID: "u-1"}, queue.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, queue.KindProcessOrder, env.Kind)
	assert.Equal(t, 3, env.MaxAttempts)
	assert.EqualValues(t, 1000, env.BackoffMS)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	var back queue.Envelope
	require.NoError(t, json.Unmarshal(b, &back))

	rec := &recorder{}
	require.NoError(t, queue.Process(context.Background(), rec, back))
	assert.Equal(t, []queue.ProcessOrder{{OrderID: "o-1", UserID: "u-1"}}, rec.processed)
	assert.Empty(t, rec.expired)
}

func TestDispatchExpire(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, queue.Dispatch(context.Background(), rec, queue.ExpireUnpaidOrder{OrderID: "o-2"}))
	assert.Equal(t, "o-2", rec.expired[0].OrderID)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := queue.Envelope{Kind: "send-sms", Payload: []byte(`{}`)}.Decode()
	assert.True(t, errors.Is(err, queue.ErrUnknownKind))
}

func TestRetryDelayDoubles(t *testing.T) {
	env := queue.Envelope{BackoffMS: 1000}
	env.Attempt = 1
	assert.Equal(t, time.Second, env.RetryDelay())
	env.Attempt = 2
	assert.Equal(t, 2*time.Second, env.RetryDelay())
	env.Attempt = 3
	assert.Equal(t, 4*time.Second, env.RetryDelay())
}

type panicky struct{}

func (panicky) ProcessOrder(context.Context, queue.ProcessOrder) error { panic("boom") }

func (panicky) ExpireUnpaidOrder(context.Context, queue.ExpireUnpaidOrder) error { return nil }

func TestProcessRecoversPanic(t *testing.T) {
	env, err := queue.NewEnvelope(queue.ProcessOrder{OrderID: "o-3"}, queue.DefaultOptions())
	require.NoError(t, err)
	err = queue.Process(context.Background(), panicky{}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
