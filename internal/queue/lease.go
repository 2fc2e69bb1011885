package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaseManager encapsulates the receive/ack/nack protocol for one queue and
// enforces the single-active-lease invariant.
//
// A lease is a visibility window, not a lock: a consumer that outruns its
// lease may race a newer consumer holding the same message, and the token
// check is what makes that race safe. The loser's Confirm/Release is
// rejected with ErrStaleLease and never silently applied.
//
// Expiry is implicit. A lease that elapses without a Confirm makes the
// message receivable again purely through the VisibleAtMs <= now filter in
// ListReceivable; there is no timer.
type LeaseManager struct {
	store *Store
}

// NewLeaseManager creates a lease manager over the given store.
func NewLeaseManager(store *Store) *LeaseManager {
	return &LeaseManager{store: store}
}

// Lease grants a lease on a receivable message: it hides the message until
// nowMs+leaseDur, increments ReceiveCount (this is the only place the count
// is mutated) and assigns a fresh token. Racing callers are serialized on
// the store mutex; the loser gets errNotReceivable.
func (lm *LeaseManager) Lease(ctx context.Context, id string, leaseDur time.Duration, nowMs int64) (string, *Message, error) {
	lm.store.mu.Lock()
	defer lm.store.mu.Unlock()

	m, found, err := lm.store.Get(id)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}
	if m.VisibleAtMs > nowMs {
		return "", nil, errNotReceivable
	}

	m.VisibleAtMs = nowMs + leaseDur.Milliseconds()
	m.ReceiveCount++
	m.LeaseToken = uuid.NewString()

	if err := lm.store.updateLocked(ctx, m); err != nil {
		return "", nil, err
	}
	return m.LeaseToken, m, nil
}

// Confirm validates the token and deletes the message on match. A mismatch
// (the lease expired and was re-granted, or the message was already
// confirmed and re-enqueued) returns ErrStaleLease and mutates nothing.
// Confirming an id that no longer exists is a no-op: the duplicate of an
// Ack that already ran must not fail.
func (lm *LeaseManager) Confirm(ctx context.Context, id, token string) error {
	lm.store.mu.Lock()
	defer lm.store.mu.Unlock()

	m, found, err := lm.store.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if m.LeaseToken == "" || m.LeaseToken != token {
		return fmt.Errorf("confirm %s: %w", id, ErrStaleLease)
	}

	b := lm.store.db.NewBatch()
	defer b.Close()
	if err := lm.store.deleteLocked(b, m); err != nil {
		return err
	}
	return lm.store.db.CommitBatch(ctx, b)
}

// Release is the explicit negative acknowledgement: on a token match the
// message becomes receivable immediately instead of waiting out the lease.
// The token is cleared so a late Confirm from the same lease cannot delete
// a message that has been handed back.
func (lm *LeaseManager) Release(ctx context.Context, id, token string, nowMs int64) error {
	lm.store.mu.Lock()
	defer lm.store.mu.Unlock()

	m, found, err := lm.store.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("release %s: %w", id, ErrNotFound)
	}
	if m.LeaseToken == "" || m.LeaseToken != token {
		return fmt.Errorf("release %s: %w", id, ErrStaleLease)
	}

	m.VisibleAtMs = nowMs
	m.LeaseToken = ""
	return lm.store.updateLocked(ctx, m)
}
