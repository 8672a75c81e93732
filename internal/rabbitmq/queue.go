// Package rabbitmq is the AMQP backend of the job queue. Delays and retries
// go through an x-delayed-message exchange (rabbitmq_delayed_message_exchange
// plugin); exhausted jobs are dead-lettered and kept in the dead queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
)

type Queue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	mu      sync.Mutex // guards ch; channels are not safe for concurrent publishes
	name    string
	workers int

	publish func(ctx context.Context, env queue.Envelope, delay time.Duration) error
}

func (q *Queue) delayExchange() string { return q.name + "_delay" }
func (q *Queue) deadExchange() string  { return q.name + "_dlx" }
func (q *Queue) deadQueue() string     { return q.name + "_dead" }

func Dial(url, name string, workers int) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{conn: conn, ch: ch, name: name, workers: workers}
	q.publish = q.publishAMQP
	if err := q.setup(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) setup() error {
	if err := q.ch.ExchangeDeclare(
		q.deadExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}
	if _, err := q.ch.QueueDeclare(q.deadQueue(), true, false, false, false, nil); err != nil {
		return err
	}
	if err := q.ch.QueueBind(q.deadQueue(), q.deadQueue(), q.deadExchange(), false, nil); err != nil {
		return err
	}

	if err := q.ch.ExchangeDeclare(
		q.delayExchange(),
		"x-delayed-message",
		true,
		false,
		false,
		false,
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		return fmt.Errorf("declare delayed exchange (is the delayed message plugin enabled?): %w", err)
	}

	if _, err := q.ch.QueueDeclare(
		q.name,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    q.deadExchange(),
			"x-dead-letter-routing-key": q.deadQueue(),
		},
	); err != nil {
		return err
	}
	return q.ch.QueueBind(q.name, q.name, q.delayExchange(), false, nil)
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job, opts queue.Options) error {
	env, err := queue.NewEnvelope(job, opts)
	if err != nil {
		return err
	}
	return q.publish(ctx, env, opts.Delay)
}

func (q *Queue) publishAMQP(ctx context.Context, env queue.Envelope, delay time.Duration) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    env.ID,
		Type:         string(env.Kind),
		Timestamp:    time.Now(),
		Body:         body,
	}
	exchange := ""
	if delay > 0 {
		exchange = q.delayExchange()
		msg.Headers = amqp.Table{"x-delay": delay.Milliseconds()}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.PublishWithContext(ctx, exchange, q.name, false, false, msg)
}

// Run consumes on its own channel with prefetch = workers until ctx is done.
// It returns an error when the broker closes the channel or the delivery
// stream ends on its own, so the caller can restart instead of idling.
func (q *Queue) Run(ctx context.Context, h queue.Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Qos(q.workers, 0, false); err != nil {
		return err
	}
	tag := q.name + "-" + uuid.NewString()
	deliveries, err := ch.Consume(
		q.name,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	return q.consume(ctx, h, deliveries, closed, func() { _ = ch.Cancel(tag, false) })
}

// consume fans deliveries out to the workers. On ctx done it calls stop and
// lets the workers drain what the broker already sent.
func (q *Queue) consume(ctx context.Context, h queue.Handler, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, stop func()) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				q.handle(ctx, h, d)
			}
		}()
	}
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		stop()
		<-drained
		return nil
	case amqpErr, ok := <-closed:
		<-drained
		return q.closedErr(amqpErr, ok)
	case <-drained:
		if ctx.Err() != nil {
			return nil
		}
		select {
		case amqpErr, ok := <-closed:
			return q.closedErr(amqpErr, ok)
		default:
			return fmt.Errorf("rabbitmq %s: delivery stream ended", q.name)
		}
	}
}

func (q *Queue) closedErr(amqpErr *amqp.Error, ok bool) error {
	if ok && amqpErr != nil {
		return fmt.Errorf("rabbitmq %s: channel closed: %w", q.name, amqpErr)
	}
	return fmt.Errorf("rabbitmq %s: channel closed", q.name)
}

func (q *Queue) handle(ctx context.Context, h queue.Handler, d amqp.Delivery) {
	var env queue.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logging.Error(logging.Fields{Step: "rabbitmq.decode", Message: q.name}, err)
		_ = d.Nack(false, false)
		return
	}

	runErr := queue.Process(ctx, h, env)
	env.Attempt++
	f := logging.Fields{JobID: env.ID, Step: "rabbitmq." + string(env.Kind), Status: fmt.Sprint(env.Attempt)}

	switch {
	case runErr == nil:
		metrics.RecordJob(string(env.Kind), "ok")
		_ = d.Ack(false)
	case env.Exhausted():
		metrics.RecordJob(string(env.Kind), "failed")
		logging.Error(f, runErr)
		_ = d.Nack(false, false)
	default:
		env.LastError = runErr.Error()
		if err := q.publish(context.WithoutCancel(ctx), env, env.RetryDelay()); err != nil {
			logging.Error(f, fmt.Errorf("republish retry: %w", err))
			_ = d.Nack(false, true)
			return
		}
		metrics.RecordJob(string(env.Kind), "retry")
		logging.Warn(f, runErr)
		_ = d.Ack(false)
	}
}

func (q *Queue) Close() {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
}
