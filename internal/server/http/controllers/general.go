package controllers

import (
	"net/http"

	"github.com/rzbill/flume/internal/runtime"
	ingestsvc "github.com/rzbill/flume/internal/services/ingest"
)

// GeneralController handles general HTTP endpoints like health and
// destination listings.
type GeneralController struct {
	rt  *runtime.Runtime
	svc *ingestsvc.Service
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, svc *ingestsvc.Service) *GeneralController {
	return &GeneralController{rt: rt, svc: svc}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Destination listing and stats (/v1/destinations, /v1/destinations/stats)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/destinations", c.handleDestinations)
	mux.HandleFunc("/v1/destinations/stats", c.handleDestinationStats)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with per-destination stream states if storage is healthy,
// 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	resp := healthResp{Status: "ok", Destinations: map[string]string{}}
	for _, ks := range c.svc.HealthAll() {
		resp.Destinations[ks.Key] = ks.Status.String()
	}
	writeJSON(w, resp)
}

// handleDestinations lists configured destinations with their stream state.
func (c *GeneralController) handleDestinations(w http.ResponseWriter, r *http.Request) {
	statuses := map[string]string{}
	for _, ks := range c.svc.HealthAll() {
		statuses[ks.Key] = ks.Status.String()
	}
	out := make([]destinationJSON, 0, len(c.svc.Destinations()))
	for _, d := range c.svc.Destinations() {
		out = append(out, destinationJSON{Key: d.Key, Table: d.Table, Status: statuses[d.Key]})
	}
	writeJSON(w, map[string]any{"destinations": out})
}

// handleDestinationStats returns journal counters, optionally with recent
// outcomes when ?recent= asks for them.
func (c *GeneralController) handleDestinationStats(w http.ResponseWriter, r *http.Request) {
	recentLimit := parseLimit(r.URL.Query().Get("recent"))
	out := make([]destinationStatsJSON, 0, len(c.svc.Destinations()))
	for _, d := range c.svc.Destinations() {
		stats, err := c.svc.Stats(d.Key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read stats")
			return
		}
		item := destinationStatsJSON{Key: d.Key, Stats: stats}
		if recentLimit > 0 {
			if item.Recent, err = c.svc.Recent(d.Key, recentLimit); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to read recent outcomes")
				return
			}
		}
		out = append(out, item)
	}
	writeJSON(w, map[string]any{"destinations": out})
}
