// Package queue implements a durable message queue with lease-based,
// at-least-once delivery and dead-letter quarantine.
//
// Each message is delivered under a time-bounded lease identified by an
// opaque token. The token is regenerated on every receive and validated on
// Ack/Nack, so an operation from an expired lease can never affect the
// lease that superseded it.
//
// # Keyspace
//
// All keys are prefixed with q/{name}/:
//
//	msg/{id}                      - message data (body, attrs, lease state)
//	ready_idx/{visible_ms}/{id}   - visibility index, sorted by visible-at
//	parked/{id}                   - quarantined messages with no DLQ target
//	meta                          - live message count
//
// # Message lifecycle
//
//  1. Enqueue: message written available (visibleAt = now, receiveCount 0)
//  2. Receive: lease granted (visibleAt = now + lease), count incremented,
//     fresh token issued
//  3. Processing:
//     - Ack: token validated, message deleted
//     - Nack: token validated, message immediately receivable again
//     - neither: lease elapses, message implicitly receivable again
//  4. A receive that pushes the count past the limit hands the message to
//     the dead-letter router instead of returning it
//
// # Delivery semantics
//
// At-least-once. Duplicates occur when a consumer finishes after its lease
// expired or crashes between processing and Ack; downstream effects must be
// idempotent (the order store's keyed upsert is). There is no ordering
// across messages; the only ordering invariant is that per message, only
// the most recent lease's token is live.
//
// Lease expiry is a pure function of stored timestamps compared against the
// caller-supplied now: there is no background timer, which removes the race
// class between timer callbacks and explicit operations. All operations
// take an optional nowMs (<= 0 means wall clock) so tests drive time
// explicitly.
package queue
