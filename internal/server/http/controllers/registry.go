package controllers

import (
	"net/http"

	"github.com/rzbill/flume/internal/runtime"
	ingestsvc "github.com/rzbill/flume/internal/services/ingest"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general *GeneralController
	ingest  *IngestController
}

// NewControllerRegistry creates a new controller registry.
//
// It initializes all controllers with the provided runtime and service.
func NewControllerRegistry(rt *runtime.Runtime, svc *ingestsvc.Service) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, svc),
		ingest:  NewIngestController(rt, svc),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This method sets up all HTTP endpoints for the Flume service: health and
// destination inspection plus the ingest and flush operations.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.ingest.RegisterRoutes(mux)
}
