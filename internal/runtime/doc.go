// Package runtime wires storage, config, the queue topology, and the order
// pipeline facades into a single-node orderpipe instance. It exposes
// Open/Close, basic health checks, and accessors used by the servers and
// the CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Publish an order event to every subscribed queue
//	_ = rt.Publisher().Publish(context.Background(), []byte(`{"orderId":"O1"}`))
package runtime
