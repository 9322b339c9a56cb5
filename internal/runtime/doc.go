// Package runtime wires storage, config, the delivery journal, and the
// stream manager into a single-node gateway instance. It exposes
// Open/Close, basic health checks, and accessors used by higher-level
// services.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Submit a record to a destination stream
//	_, _, _ = rt.Manager().Submit(context.Background(), "orders", payload, true)
package runtime
