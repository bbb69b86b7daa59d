package receiver

import (
	"errors"
	"log/slog"
	"time"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/alerts"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
	"github.com/queuelab/queuelab/server/internal/store"
)

// Receiver accepts observations shipped by agents. It validates them, fills
// in an evaluation the agent left out, stores the result and runs the alert
// rules.
type Receiver struct {
	store   *store.Store
	alerts  *alerts.Engine
	metrics *metrics.Registry
	limits  form.Defaults
	now     func() time.Time
}

// New creates a Receiver writing to st. al and m are required. limits caps
// the server count of observations the receiver evaluates itself.
func New(st *store.Store, al *alerts.Engine, m *metrics.Registry, limits form.Defaults) *Receiver {
	return &Receiver{store: st, alerts: al, metrics: m, limits: limits, now: time.Now}
}

// Accept validates and stores obs. Rejections are *erlangc.ValidationError.
// Authentication is enforced by the transport before Accept is called.
func (r *Receiver) Accept(obs types.Observation) (store.Entry, error) {
	if obs.SourceID == "" {
		return store.Entry{}, &erlangc.ValidationError{Field: "source_id", Reason: "is required"}
	}
	switch obs.State {
	case types.StateStable, types.StateSaturating, types.StateUnstable, types.StateUnknown:
	case "":
		obs.State = types.StateUnknown
	default:
		return store.Entry{}, &erlangc.ValidationError{Field: "state", Value: obs.State, Reason: "unknown state"}
	}
	if obs.Servers < 0 {
		return store.Entry{}, &erlangc.ValidationError{Field: "servers", Reason: "must not be negative"}
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = r.now().UTC()
	}
	if err := r.complete(&obs); err != nil {
		return store.Entry{}, err
	}

	e := r.store.Put(obs)
	r.metrics.ObservationReceived()
	r.alerts.Evaluate(obs)

	slog.Debug("receiver: observation stored",
		"source_id", obs.SourceID,
		"state", obs.State,
		"rho", obs.Rho,
	)
	return e, nil
}

// complete evaluates an observation that carries inputs but no metrics and
// derives its state from the result. Observations without usable inputs are
// stored as sent; a server count above the limit is rejected.
func (r *Receiver) complete(obs *types.Observation) error {
	if obs.State == types.StateUnknown || obs.Metrics != nil {
		return nil
	}
	in := erlangc.Input{InterarrivalTime: obs.InterarrivalTime, ServiceTime: obs.ServiceTime, Servers: obs.Servers}
	if erlangc.Validate(in) != nil {
		return nil
	}
	if err := form.Check(in, r.limits); err != nil {
		return err
	}

	m, err := erlangc.Evaluate(in)
	var inst *erlangc.InstabilityError
	switch {
	case err == nil:
		r.metrics.Evaluation(metrics.OutcomeOK)
		obs.Metrics = &m
		obs.Rho = m.Rho
		obs.OfferedLoad = m.OfferedLoad
		obs.State = types.StateForRho(m.Rho)
	case errors.As(err, &inst):
		r.metrics.Evaluation(metrics.OutcomeInstability)
		obs.State = types.StateUnstable
		obs.Rho = inst.Rho
		obs.OfferedLoad = inst.OfferedLoad
	default:
		r.metrics.Evaluation(metrics.OutcomeValidation)
		obs.State = types.StateUnknown
		obs.Message = err.Error()
	}
	return nil
}
