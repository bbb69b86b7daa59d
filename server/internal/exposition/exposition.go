// Package exposition renders evaluator metrics in the Prometheus text format
// so an evaluation can be scraped or piped into promtool.
package exposition

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/queuelab/queuelab/pkg/erlangc"
)

// ContentType is the Content-Type of the text exposition format.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

const namespace = "erlangc"

// gauge describes one exported field.
type gauge struct {
	name  string
	help  string
	value func(erlangc.Metrics) float64
}

var gauges = []gauge{
	{"lambda", "Arrival rate, customers per minute.", func(m erlangc.Metrics) float64 { return m.Lambda }},
	{"mu", "Service rate per server, customers per minute.", func(m erlangc.Metrics) float64 { return m.Mu }},
	{"servers", "Number of parallel servers.", func(m erlangc.Metrics) float64 { return float64(m.Servers) }},
	{"offered_load", "Offered load in Erlangs.", func(m erlangc.Metrics) float64 { return m.OfferedLoad }},
	{"rho", "Utilization per server.", func(m erlangc.Metrics) float64 { return m.Rho }},
	{"p0", "Probability the system is empty.", func(m erlangc.Metrics) float64 { return m.P0 }},
	{"pw", "Probability an arrival has to wait.", func(m erlangc.Metrics) float64 { return m.Pw }},
	{"lq", "Expected number of customers waiting.", func(m erlangc.Metrics) float64 { return m.Lq }},
	{"wq_minutes", "Expected wait in queue, minutes.", func(m erlangc.Metrics) float64 { return m.Wq }},
	{"w_minutes", "Expected time in system, minutes.", func(m erlangc.Metrics) float64 { return m.W }},
	{"l", "Expected number of customers in the system.", func(m erlangc.Metrics) float64 { return m.L }},
	{"sum_terms", "Sum of a^n/n! for n < c.", func(m erlangc.Metrics) float64 { return m.SumTerms }},
	{"last_term", "(a^c/c!)/(1-rho).", func(m erlangc.Metrics) float64 { return m.LastTerm }},
}

// Families converts m into one gauge family per field. Every sample carries
// labels, sorted by name.
func Families(m erlangc.Metrics, labels map[string]string) []*dto.MetricFamily {
	pairs := labelPairs(labels)
	out := make([]*dto.MetricFamily, 0, len(gauges))
	for _, g := range gauges {
		out = append(out, &dto.MetricFamily{
			Name: ptr(fmt.Sprintf("%s_%s", namespace, g.name)),
			Help: ptr(g.help),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Label: pairs,
				Gauge: &dto.Gauge{Value: ptr(g.value(m))},
			}},
		})
	}
	return out
}

// Write encodes fams to w in the text exposition format.
func Write(w io.Writer, fams []*dto.MetricFamily) error {
	for _, mf := range fams {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("exposition: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func labelPairs(labels map[string]string) []*dto.LabelPair {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]*dto.LabelPair, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, &dto.LabelPair{Name: ptr(k), Value: ptr(labels[k])})
	}
	return pairs
}

func ptr[T any](v T) *T { return &v }
