package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/orderpipe/orderpipe/pkg/log"
)

// Router moves messages that exceeded their receive limit out of a source
// queue. With a dead-letter target configured the message is transferred
// (ownership moves, not a copy); without one it is parked in the source
// queue and a fatal-class event is reported. A message that exhausts its
// receive limit is never silently dropped.
type Router struct {
	logger log.Logger
}

// NewRouter creates a dead-letter router.
func NewRouter(logger log.Logger) *Router {
	return &Router{logger: logger.WithComponent("deadletter")}
}

// Route removes m from src and inserts an equivalent message into the
// dead-letter target. The transferred message gets a fresh id and a fresh
// delivery state; the original id, queue, and final receive count are
// preserved as attributes. When src and the target share a database the
// transfer commits as one batch.
func (r *Router) Route(ctx context.Context, src *Queue, m *Message, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	if src.dead == nil {
		if err := src.store.Park(ctx, m); err != nil {
			return err
		}
		r.logger.Error("message exceeded receive limit with no dead-letter target; parked",
			log.Bool("fatal", true),
			log.Str("queue", src.name),
			log.Str("id", m.ID),
			log.Int("receive_count", m.ReceiveCount),
		)
		return nil
	}

	dst := src.dead
	fresh := &Message{
		ID:   dst.gen.Next().String(),
		Body: m.Body,
		Attributes: map[string]string{
			AttrOriginID:           m.ID,
			AttrOriginQueue:        src.name,
			AttrOriginReceiveCount: strconv.Itoa(m.ReceiveCount),
		},
		EnqueuedAtMs: nowMs,
		VisibleAtMs:  nowMs,
	}
	for k, v := range m.Attributes {
		if _, taken := fresh.Attributes[k]; !taken {
			fresh.Attributes[k] = v
		}
	}

	if src.store.db == dst.store.db {
		if err := r.transferAtomic(ctx, src, dst, m, fresh); err != nil {
			return err
		}
	} else {
		if err := dst.store.Insert(ctx, fresh); err != nil {
			return err
		}
		if err := src.store.Delete(ctx, m.ID); err != nil {
			return err
		}
	}

	r.logger.Warn("message dead-lettered",
		log.Str("queue", src.name),
		log.Str("target", dst.name),
		log.Str("id", m.ID),
		log.Str("dead_letter_id", fresh.ID),
		log.Int("receive_count", m.ReceiveCount),
	)
	dst.notifyEnqueue()
	return nil
}

// transferAtomic commits the removal from src and the insert into dst as a
// single batch. Locks are taken in queue-name order; dead-letter topologies
// are acyclic so this cannot deadlock.
func (r *Router) transferAtomic(ctx context.Context, src, dst *Queue, m, fresh *Message) error {
	first, second := &src.store.mu, &dst.store.mu
	if dst.name < src.name {
		first, second = second, first
	}
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	b := src.store.db.NewBatch()
	defer b.Close()
	if err := dst.store.insertLocked(b, fresh); err != nil {
		return err
	}
	if err := src.store.deleteLocked(b, m); err != nil {
		return err
	}
	return src.store.db.CommitBatch(ctx, b)
}
