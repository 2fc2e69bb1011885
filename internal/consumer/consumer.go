// Package consumer drains an order queue into the order store.
//
// Workers poll with ReceiveWait, unwrap the fan-out envelope, and upsert the
// decoded order. Acks and nacks carry the delivery's lease token, so a
// worker that outlived its lease cannot clobber a redelivery in flight.
package consumer

import (
	"context"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orderpipe/orderpipe/internal/fanout"
	"github.com/orderpipe/orderpipe/internal/orderstore"
	"github.com/orderpipe/orderpipe/internal/queue"
	"github.com/orderpipe/orderpipe/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Default polling parameters, applied by New when Options leaves them zero.
const (
	DefaultWorkers     = 4
	DefaultBatchSize   = 10
	DefaultPollWait    = time.Second
	DefaultBackoffUnit = 100 * time.Millisecond
	DefaultBackoffMax  = 5 * time.Second
)

// Options configures a Consumer.
type Options struct {
	// Workers is the number of concurrent polling goroutines.
	Workers int
	// BatchSize is the maximum deliveries taken per poll.
	BatchSize int
	// PollWait is how long an empty poll blocks for an enqueue signal
	// before returning.
	PollWait time.Duration
	// BackoffUnit and BackoffMax bound the exponential sleep between
	// consecutive empty polls.
	BackoffUnit time.Duration
	BackoffMax  time.Duration
}

// Consumer processes order events from a queue into the store.
type Consumer struct {
	queue  *queue.Queue
	orders *orderstore.Store
	opts   Options
	logger log.Logger
}

// New creates a consumer for q writing into orders. Zero option fields get
// defaults.
func New(q *queue.Queue, orders *orderstore.Store, opts Options, logger log.Logger) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollWait <= 0 {
		opts.PollWait = DefaultPollWait
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = DefaultBackoffUnit
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	return &Consumer{
		queue:  q,
		orders: orders,
		opts:   opts,
		logger: logger.WithComponent("consumer").With(log.Str("queue", q.Name())),
	}
}

// Run polls until ctx is canceled. Each worker backs off exponentially with
// jitter across consecutive empty polls and resets on the first delivery.
// Deliveries still leased at shutdown are not nacked; their leases lapse and
// the messages redeliver.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return c.runWorker(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) runWorker(ctx context.Context, worker int) error {
	logger := c.logger.With(log.Int("worker", worker))
	counter := backoff.Counter{
		Strategy: backoff.WithTransforms(
			backoff.Exponential(c.opts.BackoffUnit),
			linger.FullJitter,
			linger.Limiter(0, c.opts.BackoffMax),
		),
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ds, err := c.queue.ReceiveWait(ctx, c.opts.BatchSize, c.opts.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("receive failed", log.Err(err))
			if err := counter.Sleep(ctx, nil); err != nil {
				return err
			}
			continue
		}
		if len(ds) == 0 {
			if err := counter.Sleep(ctx, nil); err != nil {
				return err
			}
			continue
		}
		counter.Reset()

		for _, d := range ds {
			c.handle(ctx, logger, d)
		}
	}
}

// handle processes a single delivery and settles its lease. Processing
// failures nack so the message redelivers immediately; the queue's receive
// limit takes care of poison payloads.
func (c *Consumer) handle(ctx context.Context, logger log.Logger, d queue.Delivery) {
	err := c.process(ctx, d.Message.Body)
	if err == nil {
		if err := c.queue.Ack(ctx, d.Message.ID, d.LeaseToken); err != nil {
			c.settleFailed(logger, "ack", d, err)
		}
		return
	}

	logger.Warn("order processing failed",
		log.Str("id", d.Message.ID),
		log.Int("receive_count", d.Message.ReceiveCount),
		log.Err(err),
	)
	if err := c.queue.Nack(ctx, d.Message.ID, d.LeaseToken, 0); err != nil {
		c.settleFailed(logger, "nack", d, err)
	}
}

// process decodes one order event body and upserts it.
func (c *Consumer) process(ctx context.Context, body []byte) error {
	payload := fanout.Unwrap(body)

	var order map[string]any
	if err := json.Unmarshal(payload, &order); err != nil {
		return errors.Wrap(err, "decode order payload")
	}
	if err := c.orders.Upsert(ctx, order); err != nil {
		return errors.Wrap(err, "save order")
	}
	return nil
}

// settleFailed reports an ack/nack that did not take. A stale lease means
// the visibility window lapsed and someone else owns the message now; that
// is the protocol working, not an error.
func (c *Consumer) settleFailed(logger log.Logger, op string, d queue.Delivery, err error) {
	if errors.Is(err, queue.ErrStaleLease) {
		logger.Debug("lease lapsed before settle",
			log.Str("op", op),
			log.Str("id", d.Message.ID),
		)
		return
	}
	logger.Error("settle failed",
		log.Str("op", op),
		log.Str("id", d.Message.ID),
		log.Err(err),
	)
}
