package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/rzbill/flume/internal/runtime"
	ingestsvc "github.com/rzbill/flume/internal/services/ingest"
	"github.com/rzbill/flume/internal/streammgr"
)

// maxBodyBytes bounds one ingest request body.
const maxBodyBytes = 1 << 20

// IngestController handles record ingestion and stream flushing.
type IngestController struct {
	rt  *runtime.Runtime
	svc *ingestsvc.Service
}

// NewIngestController creates a new ingest controller.
func NewIngestController(rt *runtime.Runtime, svc *ingestsvc.Service) *IngestController {
	return &IngestController{rt: rt, svc: svc}
}

// RegisterRoutes registers ingest routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Record ingestion (POST /v1/ingest/{key}?durable=)
// - Stream flushing (POST /v1/flush/{key})
func (c *IngestController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ingest/", c.handleIngest)
	mux.HandleFunc("/v1/flush/", c.handleFlush)
}

// handleIngest validates, filters, encodes, and forwards one record.
//
// Responds 200 when the record was acknowledged, 202 when it was handed to
// the stream without waiting. The ?durable= query flag overrides the
// destination's default.
func (c *IngestController) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	key := keyFromPath(r.URL.Path, "/v1/ingest/")
	if key == "" {
		writeError(w, http.StatusNotFound, "Missing destination key")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	durable := parseOptionalBool(r.URL.Query().Get("durable"))

	res, err := c.svc.Ingest(r.Context(), key, body, durable)
	if err != nil {
		c.writeIngestError(w, err)
		return
	}
	status := http.StatusAccepted
	respStatus := "accepted"
	if res.Durable {
		status = http.StatusOK
		respStatus = "durable"
	}
	writeJSONStatus(w, status, ingestResp{Status: respStatus, Key: res.Key, Seq: res.Seq})
}

// writeIngestError maps pipeline and stream errors onto HTTP statuses.
func (c *IngestController) writeIngestError(w http.ResponseWriter, err error) {
	var verr *ingestsvc.ValidationError
	switch {
	case errors.Is(err, streammgr.ErrDestinationUnknown):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ingestsvc.ErrFiltered):
		writeError(w, http.StatusConflict, "record filtered")
	case errors.Is(err, streammgr.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, streammgr.ErrUnacknowledged):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, streammgr.ErrDestinationUnavailable),
		errors.Is(err, streammgr.ErrSendRejected),
		errors.Is(err, streammgr.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleFlush forces delivery of everything outstanding on one stream.
func (c *IngestController) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	key := keyFromPath(r.URL.Path, "/v1/flush/")
	if key == "" {
		writeError(w, http.StatusNotFound, "Missing destination key")
		return
	}
	flushed, err := c.svc.Flush(r.Context(), key)
	if err != nil {
		if errors.Is(err, streammgr.ErrDestinationUnknown) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, flushResp{Key: key, Flushed: flushed})
}
