package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orderpipe/orderpipe/pkg/log"
)

func openTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q, err := Open(openTestDB(t), "orders", opts, log.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func openTestQueuePair(t *testing.T, opts Options) (*Queue, *Queue) {
	t.Helper()
	db := openTestDB(t)
	q, err := Open(db, "orders", opts, log.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	dlq, err := Open(db, "orders-dlq", Options{}, log.NewNop())
	if err != nil {
		t.Fatalf("open dlq: %v", err)
	}
	q.WithDeadLetter(dlq)
	return q, dlq
}

func TestReceiveGrantsLease(t *testing.T) {
	q := openTestQueue(t, Options{LeaseDuration: 30 * time.Second})
	ctx := context.Background()

	msgID, err := q.Enqueue(ctx, []byte(`{"orderId":"O1"}`), 1000)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ds, err := q.Receive(ctx, 10, 1000)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(ds) != 1 || ds[0].Message.ID != msgID {
		t.Fatalf("deliveries: %+v", ds)
	}
	if ds[0].LeaseToken == "" || ds[0].ExpiresAtMs != 31_000 {
		t.Fatalf("lease fields: %+v", ds[0])
	}
	if ds[0].Message.ReceiveCount != 1 {
		t.Fatalf("receiveCount = %d", ds[0].Message.ReceiveCount)
	}
}

func TestRedeliveryExactlyAtLeaseExpiry(t *testing.T) {
	q := openTestQueue(t, Options{LeaseDuration: 30 * time.Second})
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, []byte("{}"), 1000)
	if ds, _ := q.Receive(ctx, 1, 1000); len(ds) != 1 {
		t.Fatalf("first receive")
	}

	// not before leaseDuration has elapsed...
	if ds, _ := q.Receive(ctx, 1, 30_999); len(ds) != 0 {
		t.Fatalf("redelivered before lease expiry")
	}
	// ...and exactly once it has
	ds, _ := q.Receive(ctx, 1, 31_000)
	if len(ds) != 1 || ds[0].Message.ReceiveCount != 2 {
		t.Fatalf("redelivery at expiry: %+v", ds)
	}
}

func TestConcurrentReceiversSingleWinner(t *testing.T) {
	q := openTestQueue(t, Options{LeaseDuration: 30 * time.Second})
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue(ctx, []byte("{}"), 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ds, err := q.Receive(ctx, 5, 0)
				if err != nil {
					t.Errorf("receive: %v", err)
					return
				}
				if len(ds) == 0 {
					return
				}
				mu.Lock()
				for _, d := range ds {
					seen[d.Message.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("leased %d distinct messages, want %d", len(seen), n)
	}
	for msgID, count := range seen {
		if count != 1 {
			t.Fatalf("message %s leased %d times within one window", msgID, count)
		}
	}
}

func TestAckDeletesNackRedelivers(t *testing.T) {
	q := openTestQueue(t, Options{})
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, []byte("{}"), 1000)
	ds, _ := q.Receive(ctx, 1, 1000)

	if err := q.Nack(ctx, ds[0].Message.ID, ds[0].LeaseToken, 2000); err != nil {
		t.Fatalf("nack: %v", err)
	}
	// nack makes it receivable immediately, without waiting out the lease
	ds, _ = q.Receive(ctx, 1, 2000)
	if len(ds) != 1 || ds[0].Message.ReceiveCount != 2 {
		t.Fatalf("after nack: %+v", ds)
	}

	msgID, token := ds[0].Message.ID, ds[0].LeaseToken
	if err := q.Ack(ctx, msgID, token); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ds, _ := q.Receive(ctx, 1, 100_000); len(ds) != 0 {
		t.Fatalf("message receivable after ack")
	}
	// duplicate ack of a deleted message is dropped, not an error
	if err := q.Ack(ctx, msgID, token); err != nil {
		t.Fatalf("duplicate ack: %v", err)
	}
}

// The source scenario: leaseDuration=30s, maxReceiveCount=3. Three leases
// elapse unacked; the fourth receive must surface the message on the
// dead-letter queue, not the main one.
func TestExhaustedMessageMovesToDeadLetter(t *testing.T) {
	q, dlq := openTestQueuePair(t, Options{LeaseDuration: 30 * time.Second, MaxReceiveCount: 3})
	ctx := context.Background()

	msgID, _ := q.Enqueue(ctx, []byte(`{"orderId":"O1234"}`), 0)

	now := int64(1_000_000)
	for attempt := 1; attempt <= 3; attempt++ {
		ds, err := q.Receive(ctx, 1, now)
		if err != nil || len(ds) != 1 {
			t.Fatalf("attempt %d: %v %v", attempt, ds, err)
		}
		if ds[0].Message.ReceiveCount != attempt {
			t.Fatalf("attempt %d: receiveCount = %d", attempt, ds[0].Message.ReceiveCount)
		}
		now += 30_000 // lease elapses, no ack
	}

	// fourth receive: not returned from the main queue
	ds, err := q.Receive(ctx, 1, now)
	if err != nil {
		t.Fatalf("fourth receive: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("exhausted message returned to a consumer: %+v", ds)
	}
	if ds, _ := q.Receive(ctx, 1, now+100_000); len(ds) != 0 {
		t.Fatalf("exhausted message receivable later")
	}

	// it is observable on the dead-letter queue, with its origin preserved
	dds, err := dlq.Receive(ctx, 1, now)
	if err != nil || len(dds) != 1 {
		t.Fatalf("dlq receive: %v %v", dds, err)
	}
	m := dds[0].Message
	if m.Attributes[AttrOriginID] != msgID || m.Attributes[AttrOriginQueue] != "orders" {
		t.Fatalf("origin attributes: %v", m.Attributes)
	}
	if m.Attributes[AttrOriginReceiveCount] != "4" {
		t.Fatalf("origin receive count: %v", m.Attributes)
	}
	if string(m.Body) != `{"orderId":"O1234"}` {
		t.Fatalf("body not preserved: %s", m.Body)
	}

	// the dead-letter queue is an ordinary queue: it can be acked drained
	if err := dlq.Ack(ctx, m.ID, dds[0].LeaseToken); err != nil {
		t.Fatalf("dlq ack: %v", err)
	}
}

func TestExhaustedMessageParkedWithoutTarget(t *testing.T) {
	q := openTestQueue(t, Options{LeaseDuration: time.Second, MaxReceiveCount: 1})
	ctx := context.Background()

	msgID, _ := q.Enqueue(ctx, []byte("{}"), 1000)
	if ds, _ := q.Receive(ctx, 1, 1000); len(ds) != 1 {
		t.Fatalf("first receive")
	}
	if ds, _ := q.Receive(ctx, 1, 5000); len(ds) != 0 {
		t.Fatalf("second receive should route, not deliver")
	}

	// never silently dropped: retained in the parked area
	st, err := q.Stats(5000)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Parked != 1 || st.Total != 0 {
		t.Fatalf("stats after park: %+v", st)
	}
	if _, found, _ := q.Store().GetParked(msgID); !found {
		t.Fatalf("parked message missing")
	}
}

func TestStats(t *testing.T) {
	q := openTestQueue(t, Options{LeaseDuration: 30 * time.Second})
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, []byte("{}"), 1000)
	_, _ = q.Enqueue(ctx, []byte("{}"), 1000)
	_, _ = q.Receive(ctx, 1, 1000)

	st, err := q.Stats(1000)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.Available != 1 || st.Leased != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestReceiveWaitWakesOnEnqueue(t *testing.T) {
	q := openTestQueue(t, Options{})
	ctx := context.Background()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Enqueue(ctx, []byte("{}"), 0)
	}()

	start := time.Now()
	ds, err := q.ReceiveWait(ctx, 1, 5*time.Second)
	if err != nil {
		t.Fatalf("receive wait: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("expected a delivery after wake")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("waited full timeout despite enqueue")
	}
}

func TestReceiveWaitTimesOutEmpty(t *testing.T) {
	q := openTestQueue(t, Options{})
	ds, err := q.ReceiveWait(context.Background(), 1, 20*time.Millisecond)
	if err != nil || len(ds) != 0 {
		t.Fatalf("want empty timeout, got %v %v", ds, err)
	}
}
