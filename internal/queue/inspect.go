package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// InspectOptions controls queue inspection.
type InspectOptions struct {
	// Limit caps the number of returned messages; 0 means no cap.
	Limit int
	// Filter is an optional CEL expression evaluated per message. Available
	// variables: id, text, size, enqueued_ms, receive_count, json (the
	// decoded payload), attributes, now_ms.
	Filter string
	// IncludeParked also lists messages parked for lack of a dead-letter
	// target.
	IncludeParked bool
}

// Inspect lists a queue's messages without leasing them. It backs the
// dead-letter drain/requeue tooling: operators filter the quarantined
// payloads, then Requeue the ones worth reprocessing.
func (q *Queue) Inspect(ctx context.Context, opts InspectOptions, nowMs int64) ([]Message, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	filter, err := newMessageFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	live, err := q.store.ListAll(0)
	if err != nil {
		return nil, err
	}
	all := live
	if opts.IncludeParked {
		parked, err := q.store.ListParked(0)
		if err != nil {
			return nil, err
		}
		all = append(all, parked...)
	}

	var out []Message
	for _, m := range all {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		if filter.Eval(m, nowMs) {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Requeue moves a live or parked message onto dst as a fresh available
// message with reset delivery state. Manual reprocessing tooling only; the
// move is not atomic across queues, so a crash mid-way can leave the
// message on both, which the idempotent order store absorbs downstream.
func (q *Queue) Requeue(ctx context.Context, msgID string, dst *Queue, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	parked := false
	m, found, err := q.store.Get(msgID)
	if err != nil {
		return err
	}
	if !found {
		m, found, err = q.store.GetParked(msgID)
		if err != nil {
			return err
		}
		parked = found
	}
	if !found {
		return ErrNotFound
	}

	if _, err := dst.Enqueue(ctx, m.Body, nowMs); err != nil {
		return err
	}
	if parked {
		return q.store.DeleteParked(ctx, msgID)
	}
	return q.store.Delete(ctx, msgID)
}

// messageFilter wraps a compiled CEL program. When disabled, Eval always
// returns true.
type messageFilter struct {
	prog    cel.Program
	enabled bool
}

func newMessageFilter(expr string) (messageFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return messageFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("enqueued_ms", cel.IntType),
		cel.Variable("receive_count", cel.IntType),
		// decoded JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return messageFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return messageFilter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return messageFilter{}, err
	}
	return messageFilter{prog: prog, enabled: true}, nil
}

func (f messageFilter) Eval(m *Message, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(m.Body, &jsonObj)
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            m.ID,
		"text":          string(m.Body),
		"size":          int64(len(m.Body)),
		"enqueued_ms":   m.EnqueuedAtMs,
		"receive_count": int64(m.ReceiveCount),
		"json":          jsonObj,
		"attributes":    attrs,
		"now_ms":        nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
