package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/server/internal/exposition"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
)

// formatPrometheus selects the text exposition output.
const formatPrometheus = "prometheus"

// evaluateQuery handles GET /api/v1/evaluate?interarrival=&service_time=&servers=.
func (h *Handler) evaluateQuery(w http.ResponseWriter, r *http.Request) {
	in, err := form.FromRequest(r, h.defaults)
	if err != nil {
		h.writeEvalError(w, err)
		return
	}
	h.evaluate(w, r, in)
}

// evaluateBody handles POST /api/v1/evaluate. A JSON body is the default;
// url-encoded forms are accepted with the same field names as the query.
func (h *Handler) evaluateBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		h.evaluateQuery(w, r)
		return
	}

	var req EvaluationRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeEvalError(w, &erlangc.ValidationError{Reason: "malformed JSON body: " + err.Error()})
		return
	}
	in := erlangc.Input{
		InterarrivalTime: req.InterarrivalTime,
		ServiceTime:      req.ServiceTime,
		Servers:          h.defaults.ServerCount(),
	}
	if req.Servers != nil {
		in.Servers = *req.Servers
	}
	if err := form.Check(in, h.defaults); err != nil {
		h.writeEvalError(w, err)
		return
	}
	h.evaluate(w, r, in)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, in erlangc.Input) {
	m, err := erlangc.Evaluate(in)
	if err != nil {
		h.writeEvalError(w, err)
		return
	}
	h.metrics.Evaluation(metrics.OutcomeOK)

	if r.URL.Query().Get("format") == formatPrometheus {
		w.Header().Set("Content-Type", exposition.ContentType)
		w.WriteHeader(http.StatusOK)
		if err := exposition.Write(w, exposition.Families(m, nil)); err != nil {
			slog.Debug("api: write exposition", "err", err)
		}
		return
	}
	jsonResp(w, http.StatusOK, EvaluationResponse{Input: in, Metrics: m, Steps: m.Steps()})
}

// writeEvalError maps an evaluation error to 400, 422 or 500 and counts it.
func (h *Handler) writeEvalError(w http.ResponseWriter, err error) {
	h.metrics.Evaluation(outcome(err))

	var (
		verr *erlangc.ValidationError
		ierr *erlangc.InstabilityError
	)
	switch {
	case errors.As(err, &verr):
		jsonResp(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: erlangc.KindValidation, Field: verr.Field})
	case errors.As(err, &ierr):
		rho := ierr.Rho
		jsonResp(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: erlangc.KindInstability, Rho: &rho})
	default:
		slog.Error("api: evaluate", "err", err)
		jsonResp(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: erlangc.KindInternal})
	}
}

func outcome(err error) string {
	switch erlangc.Kind(err) {
	case "":
		return metrics.OutcomeOK
	case erlangc.KindInstability:
		return metrics.OutcomeInstability
	default:
		return metrics.OutcomeValidation
	}
}
