package queue

import (
	"context"
	"sync"
	"time"

	"github.com/orderpipe/orderpipe/pkg/id"
	"github.com/orderpipe/orderpipe/pkg/log"

	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
)

// Default queue parameters, applied by Open when Options leaves them zero.
const (
	DefaultLeaseDuration   = 30 * time.Second
	DefaultMaxReceiveCount = 3
)

// Options configures a Queue.
type Options struct {
	// LeaseDuration is the visibility window granted per receive.
	LeaseDuration time.Duration
	// MaxReceiveCount is the number of receive attempts a message gets
	// before it is handed to the dead-letter router.
	MaxReceiveCount int
	// Capacity bounds the number of live messages; 0 is unbounded.
	Capacity int
}

// Delivery is one received message together with its lease token. The
// caller must Ack with the token, Nack it, or let the lease expire.
type Delivery struct {
	Message    Message
	LeaseToken string
	// ExpiresAtMs is when the lease lapses and the message becomes
	// receivable by someone else.
	ExpiresAtMs int64
}

// Stats is a point-in-time census of a queue.
type Stats struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Leased    int    `json:"leased"`
	Parked    int    `json:"parked"`
}

// Queue is the public enqueue/receive/ack/nack surface composing a message
// store and a lease manager. Multiple Queue instances may coexist on one
// database, each independently configured; there is no shared global state.
type Queue struct {
	name   string
	store  *Store
	leases *LeaseManager
	opts   Options
	gen    *id.Generator
	logger log.Logger
	router *Router
	dead   *Queue

	nmu      sync.Mutex
	notifyCh chan struct{}
}

// Open initializes a queue on db. Zero option fields get defaults
// (30s lease, 3 receives).
func Open(db *pebblestore.DB, name string, opts Options, logger log.Logger) (*Queue, error) {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = DefaultLeaseDuration
	}
	if opts.MaxReceiveCount <= 0 {
		opts.MaxReceiveCount = DefaultMaxReceiveCount
	}
	store := NewStore(db, name, opts.Capacity)
	q := &Queue{
		name:     name,
		store:    store,
		leases:   NewLeaseManager(store),
		opts:     opts,
		gen:      id.NewGenerator(),
		logger:   logger.WithComponent("queue").With(log.Str("queue", name)),
		notifyCh: make(chan struct{}),
	}
	q.router = NewRouter(q.logger)
	return q, nil
}

// WithDeadLetter sets the quarantine target for messages that exceed the
// receive limit. The target behaves as an ordinary queue so it can be
// drained by reprocessing tooling.
func (q *Queue) WithDeadLetter(target *Queue) *Queue {
	q.dead = target
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// DeadLetter returns the configured dead-letter target, if any.
func (q *Queue) DeadLetter() *Queue { return q.dead }

// Store exposes the backing message store. Inspection tooling only.
func (q *Queue) Store() *Store { return q.store }

// Enqueue inserts body as a new available message and returns its id.
// If nowMs <= 0, the wall clock is used.
func (q *Queue) Enqueue(ctx context.Context, body []byte, nowMs int64) (string, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	m := &Message{
		ID:           q.gen.Next().String(),
		Body:         body,
		EnqueuedAtMs: nowMs,
		VisibleAtMs:  nowMs,
	}
	if err := q.store.Insert(ctx, m); err != nil {
		return "", err
	}
	q.logger.Debug("enqueued", log.Str("id", m.ID), log.Int("bytes", len(body)))
	q.notifyEnqueue()
	return m.ID, nil
}

// Receive leases up to max receivable messages. Concurrent callers never
// both obtain a live token for the same message: listing is a snapshot, but
// the lease grant re-checks visibility under the store mutex, so exactly one
// racer wins each message. A message whose new lease pushes it past
// MaxReceiveCount is routed to the dead-letter queue instead of being
// returned. Returns an empty slice when nothing is receivable.
func (q *Queue) Receive(ctx context.Context, max int, nowMs int64) ([]Delivery, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if max <= 0 {
		max = 1
	}

	var out []Delivery
	for len(out) < max {
		candidates, err := q.store.ListReceivable(nowMs, max-len(out))
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}
		progressed := false
		for _, c := range candidates {
			token, m, err := q.leases.Lease(ctx, c.ID, q.opts.LeaseDuration, nowMs)
			if err != nil {
				// lost the race to a concurrent receiver, or the message
				// was acked/routed since the snapshot
				continue
			}
			progressed = true
			if m.ReceiveCount > q.opts.MaxReceiveCount {
				if err := q.router.Route(ctx, q, m, nowMs); err != nil {
					q.logger.Error("dead-letter routing failed", log.Str("id", m.ID), log.Err(err))
				}
				continue
			}
			out = append(out, Delivery{Message: *m, LeaseToken: token, ExpiresAtMs: m.VisibleAtMs})
		}
		if !progressed {
			break
		}
	}
	return out, nil
}

// ReceiveWait behaves like Receive but, when nothing is receivable, blocks
// up to wait for an enqueue before one retry. It never busy-spins; callers
// are expected to poll with their own backoff on repeated empties.
func (q *Queue) ReceiveWait(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	out, err := q.Receive(ctx, max, 0)
	if err != nil || len(out) > 0 || wait <= 0 {
		return out, err
	}

	ch := q.enqueueSignal()
	select {
	case <-ch:
	case <-time.After(wait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return q.Receive(ctx, max, 0)
}

// Ack confirms successful processing: the token is validated and the
// message deleted. A stale token leaves the message untouched.
func (q *Queue) Ack(ctx context.Context, msgID, token string) error {
	return q.leases.Confirm(ctx, msgID, token)
}

// Nack reports a processing failure: the token is validated and the message
// made receivable again immediately, without waiting out the lease.
// If nowMs <= 0, the wall clock is used.
func (q *Queue) Nack(ctx context.Context, msgID, token string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	return q.leases.Release(ctx, msgID, token, nowMs)
}

// Stats counts the queue's messages by state as of nowMs.
func (q *Queue) Stats(nowMs int64) (Stats, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	live, err := q.store.ListAll(0)
	if err != nil {
		return Stats{}, err
	}
	parked, err := q.store.ListParked(0)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Name: q.name, Total: len(live), Parked: len(parked)}
	for _, m := range live {
		if m.VisibleAtMs <= nowMs {
			st.Available++
		} else {
			st.Leased++
		}
	}
	return st, nil
}

// notifyEnqueue wakes all current ReceiveWait blockers by closing the
// notification channel and replacing it.
func (q *Queue) notifyEnqueue() {
	q.nmu.Lock()
	ch := q.notifyCh
	q.notifyCh = make(chan struct{})
	q.nmu.Unlock()
	close(ch)
}

// enqueueSignal returns a channel closed on the next enqueue.
func (q *Queue) enqueueSignal() <-chan struct{} {
	q.nmu.Lock()
	defer q.nmu.Unlock()
	return q.notifyCh
}
