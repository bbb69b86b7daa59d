package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/alerts"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
	"github.com/queuelab/queuelab/server/internal/receiver"
	"github.com/queuelab/queuelab/server/internal/store"
)

// maxBodyBytes bounds request bodies on the evaluate and ingest endpoints.
const maxBodyBytes = 1 << 20

// Options wires the handler to its collaborators. Store, Alerts and Metrics
// are required.
type Options struct {
	Store    *store.Store
	Alerts   *alerts.Engine
	Metrics  *metrics.Registry
	Defaults form.Defaults

	// IngestAuth wraps POST /api/v1/observations. Nil leaves it open.
	IngestAuth func(http.Handler) http.Handler
}

// Handler serves all /api/v1/* endpoints.
type Handler struct {
	store    *store.Store
	alerts   *alerts.Engine
	metrics  *metrics.Registry
	receiver *receiver.Receiver
	defaults form.Defaults
	router   *mux.Router
	now      func() time.Time
}

// New creates a Handler and registers its routes.
func New(opts Options) *Handler {
	h := &Handler{
		store:    opts.Store,
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
		receiver: receiver.New(opts.Store, opts.Alerts, opts.Metrics, opts.Defaults),
		defaults: opts.Defaults,
		router:   mux.NewRouter(),
		now:      time.Now,
	}

	ingest := http.Handler(http.HandlerFunc(h.ingestObservation))
	if opts.IngestAuth != nil {
		ingest = opts.IngestAuth(ingest)
	}

	r := h.router
	r.HandleFunc("/api/v1/evaluate", h.evaluateQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/evaluate", h.evaluateBody).Methods(http.MethodPost)
	r.Handle("/api/v1/observations", ingest).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sources", h.listSources).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sources/{id}", h.getSource).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/snapshot", h.snapshot).Methods(http.MethodGet)

	h.router.Use(h.metrics.Middleware)
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonResp(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: "method_not_allowed"})
	})
	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonResp(w, http.StatusNotFound, errorResponse{Error: "not found", Kind: "not_found"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// ingestObservation handles POST /api/v1/observations from agents.
func (h *Handler) ingestObservation(w http.ResponseWriter, r *http.Request) {
	var obs types.Observation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&obs); err != nil {
		jsonResp(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error(), Kind: erlangc.KindValidation})
		return
	}

	e, err := h.receiver.Accept(obs)
	var verr *erlangc.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonResp(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: erlangc.KindValidation, Field: verr.Field})
	case err != nil:
		slog.Error("api: ingest", "source", obs.SourceID, "err", err)
		jsonResp(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: erlangc.KindInternal})
	default:
		jsonResp(w, http.StatusAccepted, toSourceResponse(e))
	}
}

// listSources handles GET /api/v1/sources.
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, sourceResponses(h.store.List()))
}

// getSource handles GET /api/v1/sources/{id}. Stale sources are not found.
func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := h.store.Get(id)
	if !ok {
		jsonResp(w, http.StatusNotFound, errorResponse{Error: "source not found", Kind: "not_found"})
		return
	}
	jsonResp(w, http.StatusOK, toSourceResponse(e))
}

// health handles GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.healthOf(h.store.List()))
}

// listAlerts handles GET /api/v1/alerts: firing alerts plus those resolved
// within the past hour.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// snapshot handles GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// Snapshot builds the full view of live sources. The WebSocket hub
// broadcasts the same value.
func (h *Handler) Snapshot() SnapshotResponse {
	entries := h.store.List()
	return SnapshotResponse{
		Sources:     sourceResponses(entries),
		Health:      h.healthOf(entries),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

func sourceResponses(entries []store.Entry) []SourceResponse {
	out := make([]SourceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSourceResponse(e))
	}
	return out
}

func (h *Handler) healthOf(entries []store.Entry) HealthResponse {
	resp := HealthResponse{
		State:       types.StateUnknown,
		SourceCount: len(entries),
		AlertCount:  h.alerts.Firing(),
	}
	for _, e := range entries {
		o := e.Observation
		switch o.State {
		case types.StateStable:
			resp.StableCount++
		case types.StateSaturating:
			resp.SaturatingCount++
		case types.StateUnstable:
			resp.UnstableCount++
		default:
			resp.UnknownCount++
			continue
		}
		if resp.WorstSource == "" || o.Rho > resp.WorstRho {
			resp.WorstRho = o.Rho
			resp.WorstSource = o.SourceID
		}
	}
	switch {
	case resp.UnstableCount > 0:
		resp.State = types.StateUnstable
	case resp.SaturatingCount > 0:
		resp.State = types.StateSaturating
	case resp.StableCount > 0:
		resp.State = types.StateStable
	}
	return resp
}

func toSourceResponse(e store.Entry) SourceResponse {
	return SourceResponse{
		Observation: e.Observation,
		Hints:       computeDiagnostics(e.Observation),
		LastSeen:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// jsonResp encodes v before writing the status so an unencodable value
// becomes a 500 instead of an empty success.
func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: encode response", "err", err)
		code = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: "response could not be encoded", Kind: erlangc.KindInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}
