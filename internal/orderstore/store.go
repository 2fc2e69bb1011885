// Package orderstore persists processed orders keyed by their business
// identifier. Writes are idempotent upserts: redelivering the same order
// event converges to the same stored state, which is what makes the queue's
// at-least-once delivery safe downstream.
package orderstore

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
	"github.com/orderpipe/orderpipe/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMissingKey is returned when the order payload has no usable orderId.
// Nothing is written.
var ErrMissingKey = errors.New("orderstore: order data must contain orderId")

// Field names of the order payload the store interprets. All other fields
// pass through unmodified.
const (
	KeyOrderID   = "orderId"
	KeyTimestamp = "timestamp"
)

const keyPrefix = "order/"

// Store is a pebble-backed key-value upsert layer for order records.
type Store struct {
	db     *pebblestore.DB
	logger log.Logger
	now    func() time.Time
}

// New creates an order store on db.
func New(db *pebblestore.DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("orderstore"),
		now:    time.Now,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Upsert writes the order keyed by its orderId, overwriting any existing
// record. A missing timestamp is defaulted to the processing time in
// ISO-8601. Fails with ErrMissingKey, writing nothing, when orderId is
// absent or empty.
func (s *Store) Upsert(ctx context.Context, order map[string]any) error {
	orderID, ok := order[KeyOrderID].(string)
	if !ok || orderID == "" {
		return ErrMissingKey
	}

	record := make(map[string]any, len(order)+1)
	for k, v := range order {
		record[k] = v
	}
	if _, ok := record[KeyTimestamp]; !ok {
		record[KeyTimestamp] = s.now().UTC().Format(time.RFC3339)
	}

	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.db.Set(append([]byte(keyPrefix), orderID...), val); err != nil {
		return err
	}
	s.logger.Debug("order saved", log.Str("order_id", orderID))
	return nil
}

// Get returns the stored record for orderID, if any.
func (s *Store) Get(ctx context.Context, orderID string) (map[string]any, bool, error) {
	val, err := s.db.Get(append([]byte(keyPrefix), orderID...))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var record map[string]any
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, false, err
	}
	return record, true, nil
}
