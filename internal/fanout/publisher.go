// Package fanout broadcasts order events to subscribed queues.
//
// Each Publish wraps the payload in a notification envelope and enqueues an
// independent copy on every subscribed queue. There are no delivery
// guarantees beyond "each subscribed queue eventually receives one copy";
// ordering and deduplication are the queues' concern.
package fanout

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/orderpipe/orderpipe/internal/queue"
	"github.com/orderpipe/orderpipe/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the notification wrapper placed around published payloads.
// The inner payload travels JSON-encoded in Message, so consumers unwrap
// before interpreting the body as order data.
type Envelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp"`
}

// EnvelopeType marks a body as a fan-out envelope.
const EnvelopeType = "Notification"

// Publisher delivers a copy of each published payload to every subscribed
// queue.
type Publisher struct {
	queues []*queue.Queue
	logger log.Logger
}

// NewPublisher creates a publisher with no subscriptions.
func NewPublisher(logger log.Logger) *Publisher {
	return &Publisher{logger: logger.WithComponent("fanout")}
}

// Subscribe adds a queue to the broadcast set.
func (p *Publisher) Subscribe(q *queue.Queue) {
	p.queues = append(p.queues, q)
}

// Publish wraps payload in an envelope and enqueues one copy per
// subscriber. A failing queue does not stop delivery to the others; the
// first failure is returned after all queues were attempted.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	env := Envelope{
		Type:      EnvelopeType,
		MessageID: uuid.NewString(),
		Message:   string(payload),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "fanout: marshal envelope")
	}

	var firstErr error
	for _, q := range p.queues {
		if _, err := q.Enqueue(ctx, body, 0); err != nil {
			p.logger.Error("fanout delivery failed",
				log.Str("queue", q.Name()),
				log.Str("message_id", env.MessageID),
				log.Err(err),
			)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "fanout: enqueue on %q", q.Name())
			}
			continue
		}
		p.logger.Debug("fanout delivered",
			log.Str("queue", q.Name()),
			log.Str("message_id", env.MessageID),
		)
	}
	return firstErr
}

// Unwrap extracts the inner payload if body is a fan-out envelope;
// otherwise it returns body as-is.
func Unwrap(body []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if env.Message == "" {
		return body
	}
	return []byte(env.Message)
}
