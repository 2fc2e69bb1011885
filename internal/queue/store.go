package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
)

// Store is the durable backing for one queue's messages, indexed by id and
// by visible-at. Every mutation commits the message and its visibility index
// entry in a single batch, so the two can never disagree on disk.
type Store struct {
	db       *pebblestore.DB
	queue    string
	capacity int

	mu sync.Mutex
}

// NewStore creates a message store for the named queue.
// capacity 0 means unbounded.
func NewStore(db *pebblestore.DB, queue string, capacity int) *Store {
	return &Store{db: db, queue: queue, capacity: capacity}
}

// Count returns the number of messages currently owned by the queue
// (available plus leased, excluding parked).
func (s *Store) Count() int {
	meta, err := s.db.Get(metaKey(s.queue))
	if err != nil || len(meta) < 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(meta[:8]))
}

func (s *Store) setCount(b *pebble.Batch, n int) error {
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], uint64(n))
	return b.Set(metaKey(s.queue), meta[:], nil)
}

// Insert adds a new message in the available state. The caller is expected
// to have set VisibleAtMs to the enqueue time and ReceiveCount to zero.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.insertLocked(b, m); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// insertLocked stages an insert into b. Caller holds s.mu.
func (s *Store) insertLocked(b *pebble.Batch, m *Message) error {
	count := s.Count()
	if s.capacity > 0 && count >= s.capacity {
		return fmt.Errorf("insert %s into %s: %w", m.ID, s.queue, ErrCapacity)
	}

	val, err := encodeMessage(m)
	if err != nil {
		return err
	}
	if err := b.Set(msgKey(s.queue, m.ID), val, nil); err != nil {
		return err
	}
	if err := b.Set(readyIdxKey(s.queue, m.VisibleAtMs, m.ID), nil, nil); err != nil {
		return err
	}
	return s.setCount(b, count+1)
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (*Message, bool, error) {
	val, err := s.db.Get(msgKey(s.queue, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	m, err := decodeMessage(val)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Delete removes the message permanently. Deleting an absent id is a no-op:
// a duplicate Ack that lost the race to an earlier one must not fail.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, found, err := s.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.deleteLocked(b, m); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// deleteLocked stages removal of m into b. Caller holds s.mu.
func (s *Store) deleteLocked(b *pebble.Batch, m *Message) error {
	if err := b.Delete(msgKey(s.queue, m.ID), nil); err != nil {
		return err
	}
	if err := b.Delete(readyIdxKey(s.queue, m.VisibleAtMs, m.ID), nil); err != nil {
		return err
	}
	count := s.Count()
	if count > 0 {
		count--
	}
	return s.setCount(b, count)
}

// Update atomically replaces the message's mutable fields and moves its
// visibility index entry.
func (s *Store) Update(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, m)
}

func (s *Store) updateLocked(ctx context.Context, m *Message) error {
	prev, found, err := s.Get(m.ID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update %s in %s: %w", m.ID, s.queue, ErrNotFound)
	}

	val, err := encodeMessage(m)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(s.queue, m.ID), val, nil); err != nil {
		return err
	}
	if prev.VisibleAtMs != m.VisibleAtMs {
		if err := b.Delete(readyIdxKey(s.queue, prev.VisibleAtMs, prev.ID), nil); err != nil {
			return err
		}
		if err := b.Set(readyIdxKey(s.queue, m.VisibleAtMs, m.ID), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// ListReceivable returns up to limit messages whose VisibleAtMs <= nowMs,
// oldest enqueue first with id order as the tie-break. The result is a
// snapshot; a fresh call re-scans current state. A message whose lease has
// naturally elapsed reappears here with no explicit action.
func (s *Store) ListReceivable(nowMs int64, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listReceivableLocked(nowMs, limit)
}

func (s *Store) listReceivableLocked(nowMs int64, limit int) ([]*Message, error) {
	prefix := readyIdxPrefix(s.queue)
	lo, hi := keyRange(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Message
	var stale [][]byte
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+8 {
			continue
		}
		visibleMs := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if visibleMs > nowMs {
			// index is sorted by visible-at; nothing further is receivable
			break
		}
		id := string(k[len(prefix)+8:])
		m, found, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if !found || m.VisibleAtMs != visibleMs {
			// orphaned index entry, prune opportunistically
			stale = append(stale, append([]byte(nil), k...))
			continue
		}
		out = append(out, m)
	}

	for _, k := range stale {
		_ = s.db.Delete(k)
	}

	// The index orders by visible-at, which equals enqueue time only for
	// fresh messages. Redelivered messages must still come oldest-first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAtMs != out[j].EnqueuedAtMs {
			return out[i].EnqueuedAtMs < out[j].EnqueuedAtMs
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Park moves the message out of the live table into the parked area, where
// it is retained but never receivable. Used when a message exceeds its
// receive limit and no dead-letter target is configured.
func (s *Store) Park(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found, err := s.Get(m.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	cur.LeaseToken = ""

	val, err := encodeMessage(cur)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.deleteLocked(b, cur); err != nil {
		return err
	}
	if err := b.Set(parkedKey(s.queue, cur.ID), val, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// GetParked returns a parked message by id.
func (s *Store) GetParked(id string) (*Message, bool, error) {
	val, err := s.db.Get(parkedKey(s.queue, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	m, err := decodeMessage(val)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// ListParked returns up to limit parked messages.
func (s *Store) ListParked(limit int) ([]*Message, error) {
	lo, hi := keyRange(parkedPrefix(s.queue))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Message
	for ok := iter.First(); ok && (limit <= 0 || len(out) < limit); ok = iter.Next() {
		m, err := decodeMessage(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteParked removes a parked message. Idempotent.
func (s *Store) DeleteParked(ctx context.Context, id string) error {
	return s.db.Delete(parkedKey(s.queue, id))
}

// ListAll returns up to limit live messages regardless of visibility.
// Inspection tooling only.
func (s *Store) ListAll(limit int) ([]*Message, error) {
	lo, hi := keyRange(msgPrefix(s.queue))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Message
	for ok := iter.First(); ok && (limit <= 0 || len(out) < limit); ok = iter.Next() {
		m, err := decodeMessage(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
