package queue

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Attribute keys preserved when a message is transferred to a dead-letter
// queue.
const (
	AttrOriginID           = "origin-id"
	AttrOriginQueue        = "origin-queue"
	AttrOriginReceiveCount = "origin-receive-count"
)

// Message is a single queued payload plus its lease/retry metadata.
//
// A message is either available (VisibleAtMs <= now, empty or stale token)
// or leased (VisibleAtMs in the future). ReceiveCount is incremented exactly
// once per granted lease and never decremented.
type Message struct {
	ID           string            `json:"id"`
	Body         []byte            `json:"body"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	EnqueuedAtMs int64             `json:"enqueuedAtMs"`
	VisibleAtMs  int64             `json:"visibleAtMs"`
	ReceiveCount int               `json:"receiveCount"`
	LeaseToken   string            `json:"leaseToken,omitempty"`
}

func encodeMessage(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return b, nil
}

func decodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}
