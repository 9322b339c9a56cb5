// Package httpserver provides the JSON ingestion gateway: record ingest and
// flush per destination key, plus health and journal inspection endpoints.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: cfg})
//	s, _ := httpserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
