// Package queue carries the asynchronous jobs of the order workflow. Jobs are
// a closed set of typed payloads; both backends move the same JSON Envelope.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindProcessOrder      Kind = "process-order"
	KindExpireUnpaidOrder Kind = "expire-unpaid-order"
)

type Job interface {
	Kind() Kind
}

type ProcessOrder struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

func (ProcessOrder) Kind() Kind { return KindProcessOrder }

// ExpireUnpaidOrder cancels an order that is still unpaid when it fires.
type ExpireUnpaidOrder struct {
	OrderID string `json:"order_id"`
}

func (ExpireUnpaidOrder) Kind() Kind { return KindExpireUnpaidOrder }

var ErrUnknownKind = errors.New("unknown job kind")

// Options is the retry policy of one enqueue.
type Options struct {
	Attempts       int
	InitialBackoff time.Duration
	Delay          time.Duration
}

func DefaultOptions() Options {
	return Options{Attempts: 3, InitialBackoff: time.Second}
}

// Envelope is the wire format. Attempt counts the runs already made.
type Envelope struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int64           `json:"backoff_ms"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

func NewEnvelope(job Job, opts Options) (Envelope, error) {
	if job == nil {
		return Envelope{}, fmt.Errorf("%w: nil job", ErrUnknownKind)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", job.Kind(), err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return Envelope{
		ID:          uuid.NewString(),
		Kind:        job.Kind(),
		MaxAttempts: opts.Attempts,
		BackoffMS:   opts.InitialBackoff.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
		Payload:     payload,
	}, nil
}

// Decode turns the payload back into its typed job.
func (e Envelope) Decode() (Job, error) {
	switch e.Kind {
	case KindProcessOrder:
		var j ProcessOrder
		if err := json.Unmarshal(e.Payload, &j); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
		}
		return j, nil
	case KindExpireUnpaidOrder:
		var j ExpireUnpaidOrder
		if err := json.Unmarshal(e.Payload, &j); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

func (e Envelope) Exhausted() bool { return e.Attempt >= e.MaxAttempts }

// RetryDelay is the wait before the next run: the nth retry waits
// backoff * 2^(n-1).
func (e Envelope) RetryDelay() time.Duration {
	n := e.Attempt
	if n < 1 {
		n = 1
	}
	return time.Duration(e.BackoffMS) * time.Millisecond << (n - 1)
}

// Handler has one method per job kind, so adding a kind breaks every
// implementation until it handles it.
type Handler interface {
	ProcessOrder(ctx context.Context, j ProcessOrder) error
	ExpireUnpaidOrder(ctx context.Context, j ExpireUnpaidOrder) error
}

func Dispatch(ctx context.Context, h Handler, job Job) error {
	switch j := job.(type) {
	case ProcessOrder:
		return h.ProcessOrder(ctx, j)
	case ExpireUnpaidOrder:
		return h.ExpireUnpaidOrder(ctx, j)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, job)
	}
}

// Process decodes and dispatches one envelope; a panicking handler counts as
// a failed attempt.
func Process(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", env.ID, r)
		}
	}()
	job, err := env.Decode()
	if err != nil {
		return err
	}
	return Dispatch(ctx, h, job)
}
