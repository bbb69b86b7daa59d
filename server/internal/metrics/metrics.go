// Package metrics holds the server's own Prometheus collectors and serves
// them at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/store"
)

const namespace = "queuelab"

// Evaluation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeValidation  = "validation"
	OutcomeInstability = "instability"
)

// Sources lists the live observations exported per source.
type Sources interface {
	List() []store.Entry
}

// Registry owns a private prometheus.Registry with the server collectors.
type Registry struct {
	reg *prometheus.Registry

	evaluations     *prometheus.CounterVec
	observations    prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New registers the server collectors, the Go runtime and process
// collectors, and a per-source collector reading from sources.
func New(sources Sources) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Erlang-C evaluations by outcome.",
		}, []string{"outcome"}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_received_total",
			Help:      "Observations accepted from agents.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.reg.MustRegister(
		r.evaluations,
		r.observations,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if sources != nil {
		r.reg.MustRegister(newSourceCollector(sources))
	}
	for _, o := range []string{OutcomeOK, OutcomeValidation, OutcomeInstability} {
		r.evaluations.WithLabelValues(o)
	}
	return r
}

// Evaluation counts one evaluation with the given outcome.
func (r *Registry) Evaluation(outcome string) {
	r.evaluations.WithLabelValues(outcome).Inc()
}

// ObservationReceived counts one accepted agent observation.
func (r *Registry) ObservationReceived() {
	r.observations.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Middleware records request durations labelled by the matched route
// template. Intended for mux.Router.Use.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		route := "unmatched"
		if cur := mux.CurrentRoute(req); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		r.requestDuration.
			WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// sourceCollector exports the live store at scrape time so evicted sources
// disappear without explicit cleanup.
type sourceCollector struct {
	sources Sources
	rho     *prometheus.Desc
	state   *prometheus.Desc
	wq      *prometheus.Desc
}

func newSourceCollector(s Sources) *sourceCollector {
	return &sourceCollector{
		sources: s,
		rho: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "source", "rho"),
			"Latest utilization reported for a source.",
			[]string{"source_id"}, nil),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "source", "state"),
			"1 for the source's current state.",
			[]string{"source_id", "state"}, nil),
		wq: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "source", "wq_minutes"),
			"Latest expected queue wait for a source with a steady state.",
			[]string{"source_id"}, nil),
	}
}

func (c *sourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rho
	ch <- c.state
	ch <- c.wq
}

func (c *sourceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.sources.List() {
		o := e.Observation
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, 1, o.SourceID, o.State)
		if o.State == types.StateUnknown {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.rho, prometheus.GaugeValue, o.Rho, o.SourceID)
		if o.Metrics != nil {
			ch <- prometheus.MustNewConstMetric(c.wq, prometheus.GaugeValue, o.Metrics.Wq, o.SourceID)
		}
	}
}
