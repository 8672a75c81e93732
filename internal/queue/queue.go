package queue

import "context"

// Queue is the producer side used by the order workflow.
type Queue interface {
	Enqueue(ctx context.Context, job Job, opts Options) error
}

// Runner consumes jobs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, h Handler) error
}
