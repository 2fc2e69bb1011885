package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/orderpipe/orderpipe/internal/fanout"
	"github.com/orderpipe/orderpipe/internal/orderstore"
	"github.com/orderpipe/orderpipe/internal/queue"
	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
	"github.com/orderpipe/orderpipe/pkg/log"
)

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fastOptions() Options {
	return Options{
		Workers:     2,
		BatchSize:   5,
		PollWait:    50 * time.Millisecond,
		BackoffUnit: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestConsumerStoresPublishedOrders(t *testing.T) {
	db := openTestDB(t)
	q, err := queue.Open(db, "orders", queue.Options{}, log.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	orders := orderstore.New(db, log.NewNop())

	pub := fanout.NewPublisher(log.NewNop())
	pub.Subscribe(q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(q, orders, fastOptions(), log.NewNop()).Run(ctx) }()

	for _, payload := range []string{
		`{"orderId":"O1","status":"pending"}`,
		`{"orderId":"O2","status":"shipped"}`,
	} {
		if err := pub.Publish(ctx, []byte(payload)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		_, f1, _ := orders.Get(context.Background(), "O1")
		_, f2, _ := orders.Get(context.Background(), "O2")
		return f1 && f2
	})

	got, _, _ := orders.Get(context.Background(), "O2")
	if got["status"] != "shipped" {
		t.Fatalf("order O2: %v", got)
	}
	if got["timestamp"] == nil {
		t.Fatalf("timestamp not defaulted: %v", got)
	}

	// the queue drains once processing succeeds
	waitFor(t, 5*time.Second, func() bool {
		st, _ := q.Stats(0)
		return st.Total == 0
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestConsumerRedeliveryIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	q, err := queue.Open(db, "orders", queue.Options{}, log.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	orders := orderstore.New(db, log.NewNop())
	c := New(q, orders, fastOptions(), log.NewNop())

	// the same event processed twice converges to one record
	body := []byte(`{"orderId":"O1","quantity":3}`)
	if err := c.process(context.Background(), body); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.process(context.Background(), body); err != nil {
		t.Fatalf("second: %v", err)
	}
	got, found, _ := orders.Get(context.Background(), "O1")
	if !found || got["quantity"] != 3.0 {
		t.Fatalf("record: found=%v %v", found, got)
	}
}

func TestConsumerDeadLettersPoisonPayloads(t *testing.T) {
	db := openTestDB(t)
	dlq, err := queue.Open(db, "orders-dlq", queue.Options{}, log.NewNop())
	if err != nil {
		t.Fatalf("open dlq: %v", err)
	}
	q, err := queue.Open(db, "orders", queue.Options{
		LeaseDuration:   100 * time.Millisecond,
		MaxReceiveCount: 1,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	q.WithDeadLetter(dlq)
	orders := orderstore.New(db, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = New(q, orders, fastOptions(), log.NewNop()).Run(ctx) }()

	// no orderId: every attempt fails, nacks, and redelivers until the
	// receive limit routes it to the dead-letter queue
	if _, err := q.Enqueue(ctx, []byte(`{"userId":"u1"}`), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		st, _ := dlq.Stats(0)
		return st.Total == 1
	})
	st, _ := q.Stats(0)
	if st.Total != 0 {
		t.Fatalf("poison message still on main queue: %+v", st)
	}
}

func TestProcessUnwrapsEnvelope(t *testing.T) {
	db := openTestDB(t)
	q, _ := queue.Open(db, "orders", queue.Options{}, log.NewNop())
	orders := orderstore.New(db, log.NewNop())
	c := New(q, orders, fastOptions(), log.NewNop())

	env, _ := json.Marshal(fanout.Envelope{
		Type:      fanout.EnvelopeType,
		MessageID: "m1",
		Message:   `{"orderId":"O9"}`,
	})
	if err := c.process(context.Background(), env); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, found, _ := orders.Get(context.Background(), "O9"); !found {
		t.Fatalf("order not stored from envelope")
	}

	if err := c.process(context.Background(), []byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
