package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

// Redis is a list-based job queue. Ready jobs wait in a list, workers move
// them to an active list while they run, and delayed or retried jobs sit in
// a sorted set until a poller promotes them.
type Redis struct {
	rdb     *redis.Client
	name    string
	workers int

	block time.Duration
	poll  time.Duration
	now   func() time.Time
}

func NewRedis(rdb *redis.Client, name string, workers int) *Redis {
	if workers <= 0 {
		workers = 1
	}
	return &Redis{
		rdb:     rdb,
		name:    name,
		workers: workers,
		block:   time.Second,
		poll:    500 * time.Millisecond,
		now:     time.Now,
	}
}

func (q *Redis) key(format string) string { return fmt.Sprintf(format, q.name) }

func (q *Redis) Enqueue(ctx context.Context, job Job, opts Options) error {
	env, err := NewEnvelope(job, opts)
	if err != nil {
		return err
	}
	if opts.Delay > 0 {
		return q.schedule(ctx, q.rdb, env, q.now().Add(opts.Delay))
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key(redisx.KeyQueueWait), b).Err()
}

func (q *Redis) schedule(ctx context.Context, c redis.Cmdable, env Envelope, at time.Time) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.ZAdd(ctx, q.key(redisx.KeyQueueDelayed), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: b,
	}).Err()
}

// Run starts the delayed-job poller and the workers and blocks until ctx is
// done and every in-flight job has been settled. Jobs a previous run left in
// the active list are requeued first, so delivery is at-least-once.
func (q *Redis) Run(ctx context.Context, h Handler) error {
	if n, err := q.reclaim(ctx); err != nil {
		return fmt.Errorf("queue %s reclaim: %w", q.name, err)
	} else if n > 0 {
		logging.Info(logging.Fields{Step: "queue.reclaim", Message: q.name, Status: strconv.Itoa(n)})
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(q.poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
					logging.Warn(logging.Fields{Step: "queue.promote", Message: q.name}, err)
				}
			}
		}
	}()

	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				raw, err := q.rdb.BLMove(ctx, q.key(redisx.KeyQueueWait), q.key(redisx.KeyQueueActive), "RIGHT", "LEFT", q.block).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logging.Warn(logging.Fields{Step: "queue.fetch", Message: q.name}, err)
					time.Sleep(200 * time.Millisecond)
					continue
				}
				q.handle(ctx, h, raw)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// reclaim moves everything in the active list back onto the consuming end of
// the wait list.
func (q *Redis) reclaim(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.key(redisx.KeyQueueActive), q.key(redisx.KeyQueueWait), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// promoteDue moves delayed jobs whose time has come to the wait list. ZREM
// acts as the claim so two pollers never promote the same member.
func (q *Redis) promoteDue(ctx context.Context) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.key(redisx.KeyQueueDelayed), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range due {
		n, err := q.rdb.ZRem(ctx, q.key(redisx.KeyQueueDelayed), m).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.key(redisx.KeyQueueWait), m).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *Redis) handle(ctx context.Context, h Handler, raw string) {
	// bookkeeping must land even when shutdown cancels ctx mid-job
	bg := context.WithoutCancel(ctx)
	active := q.key(redisx.KeyQueueActive)

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logging.Error(logging.Fields{Step: "queue.decode", Message: q.name}, err)
		_, _ = q.rdb.TxPipelined(bg, func(p redis.Pipeliner) error {
			p.LRem(bg, active, 1, raw)
			p.LPush(bg, q.key(redisx.KeyQueueFailed), raw)
			return nil
		})
		return
	}

	runErr := Process(ctx, h, env)
	env.Attempt++
	f := logging.Fields{JobID: env.ID, Step: "queue." + string(env.Kind), Status: strconv.Itoa(env.Attempt)}

	_, err := q.rdb.TxPipelined(bg, func(p redis.Pipeliner) error {
		p.LRem(bg, active, 1, raw)
		switch {
		case runErr == nil:
			metrics.RecordJob(string(env.Kind), "ok")
		case env.Exhausted():
			env.LastError = runErr.Error()
			b, err := json.Marshal(env)
			if err != nil {
				return err
			}
			p.LPush(bg, q.key(redisx.KeyQueueFailed), b)
			metrics.RecordJob(string(env.Kind), "failed")
			logging.Error(f, runErr)
		default:
			env.LastError = runErr.Error()
			if err := q.schedule(bg, p, env, q.now().Add(env.RetryDelay())); err != nil {
				return err
			}
			metrics.RecordJob(string(env.Kind), "retry")
			logging.Warn(f, runErr)
		}
		return nil
	})
	if err != nil {
		logging.Error(f, fmt.Errorf("queue bookkeeping: %w", err))
	}
}
