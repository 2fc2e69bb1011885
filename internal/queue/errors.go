package queue

import "errors"

var (
	// ErrCapacity is returned by Insert when the store holds the configured
	// maximum number of messages. Fatal until capacity is freed.
	ErrCapacity = errors.New("queue: store capacity exhausted")

	// ErrStaleLease is returned by Ack/Nack when the supplied lease token does
	// not match the message's current token. The operation performed no
	// mutation; callers should drop it silently.
	ErrStaleLease = errors.New("queue: stale lease token")

	// ErrNotFound is returned for operations that require an existing
	// message id. Delete and Confirm treat an unknown id as a no-op instead.
	ErrNotFound = errors.New("queue: message not found")

	// errNotReceivable is an internal signal that a concurrent caller leased
	// the message between listing and leasing.
	errNotReceivable = errors.New("queue: message not receivable")
)
