// Package config provides loading and environment overlay for Flume runtime
// configuration: the remote streaming backend, ingest defaults, and the
// destination table declared per ingest key.
//
// Example:
//
//	cfg, err := config.Load("/etc/flume.json")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* refuse to boot */ }
//	rt, _ := runtime.Open(runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
