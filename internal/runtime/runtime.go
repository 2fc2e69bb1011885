package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	cfgpkg "github.com/orderpipe/orderpipe/internal/config"
	"github.com/orderpipe/orderpipe/internal/consumer"
	"github.com/orderpipe/orderpipe/internal/fanout"
	"github.com/orderpipe/orderpipe/internal/orderstore"
	"github.com/orderpipe/orderpipe/internal/queue"
	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
	"github.com/orderpipe/orderpipe/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
}

// Runtime wires storage, the queue topology, the fan-out publisher, and the
// order store for a single-node instance. Dead-letter targets named in the
// config are opened as ordinary queues even when not declared themselves.
type Runtime struct {
	db       *pebblestore.DB
	config   cfgpkg.Config
	logger   log.Logger
	queues   map[string]*queue.Queue
	pub      *fanout.Publisher
	orders   *orderstore.Store
	consumer *consumer.Consumer
}

// Open initializes the underlying storage, builds the configured queue
// topology, and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		db:     db,
		config: opts.Config,
		logger: logger,
		queues: make(map[string]*queue.Queue),
		pub:    fanout.NewPublisher(logger),
		orders: orderstore.New(db, logger),
	}
	if err := rt.openTopology(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

// openTopology opens every declared queue plus any dead-letter target that
// is only referenced, then links sources to their targets and subscribes
// the fan-out publisher to the non-dead-letter queues.
func (r *Runtime) openTopology() error {
	cfg := r.config
	deadTargets := make(map[string]bool)
	for _, qc := range cfg.Queues {
		if qc.DeadLetter != "" {
			deadTargets[qc.DeadLetter] = true
		}
	}

	open := func(name string, qc cfgpkg.QueueConfig) error {
		if _, ok := r.queues[name]; ok {
			return nil
		}
		opts := queue.Options{
			LeaseDuration:   secondsOr(qc.LeaseSeconds, cfg.QueueDefaults.LeaseSeconds),
			MaxReceiveCount: intOr(qc.MaxReceiveCount, cfg.QueueDefaults.MaxReceiveCount),
			Capacity:        intOr(qc.Capacity, cfg.QueueDefaults.Capacity),
		}
		q, err := queue.Open(r.db, name, opts, r.logger)
		if err != nil {
			return errors.Wrapf(err, "open queue %q", name)
		}
		r.queues[name] = q
		return nil
	}

	for _, qc := range cfg.Queues {
		if err := open(qc.Name, qc); err != nil {
			return err
		}
	}
	for name := range deadTargets {
		if err := open(name, cfgpkg.QueueConfig{Name: name}); err != nil {
			return err
		}
	}
	for _, qc := range cfg.Queues {
		if qc.DeadLetter != "" {
			r.queues[qc.Name].WithDeadLetter(r.queues[qc.DeadLetter])
		}
	}
	for _, qc := range cfg.Queues {
		if !deadTargets[qc.Name] {
			r.pub.Subscribe(r.queues[qc.Name])
		}
	}

	if name := cfg.Consumer.Queue; name != "" {
		r.consumer = consumer.New(r.queues[name], r.orders, consumer.Options{
			Workers:   cfg.Consumer.Workers,
			BatchSize: cfg.Consumer.BatchSize,
			PollWait:  time.Duration(cfg.Consumer.PollWaitMs) * time.Millisecond,
		}, r.logger)
	}
	return nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Queue looks up an opened queue by name.
func (r *Runtime) Queue(name string) (*queue.Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("runtime: unknown queue %q", name)
	}
	return q, nil
}

// QueueNames lists the opened queues.
func (r *Runtime) QueueNames() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Publisher returns the fan-out publisher over the configured queues.
func (r *Runtime) Publisher() *fanout.Publisher { return r.pub }

// Orders returns the order store.
func (r *Runtime) Orders() *orderstore.Store { return r.orders }

// Consumer returns the configured order consumer, or nil when the config
// names no consumer queue.
func (r *Runtime) Consumer() *consumer.Consumer { return r.consumer }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
