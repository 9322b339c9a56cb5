package controllers

import "github.com/rzbill/flume/internal/journal"

// Common request/response types for HTTP controllers

// ingestResp reports one accepted ingest.
type ingestResp struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Seq    uint64 `json:"seq"`
}

// flushResp reports a flush outcome.
type flushResp struct {
	Key     string `json:"key"`
	Flushed bool   `json:"flushed"`
}

// destinationJSON describes one configured destination with its stream state.
type destinationJSON struct {
	Key    string `json:"key"`
	Table  string `json:"table"`
	Status string `json:"status"`
}

// destinationStatsJSON pairs journal counters with recent outcomes.
type destinationStatsJSON struct {
	Key    string          `json:"key"`
	Stats  journal.Stats   `json:"stats"`
	Recent []journal.Entry `json:"recent,omitempty"`
}

// healthResp is the /v1/healthz payload.
type healthResp struct {
	Status       string            `json:"status"`
	Destinations map[string]string `json:"destinations"`
}
