package alerts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/queuelab/queuelab/pkg/types"
)

// condition is a parsed rule expression of the form "field op value".
//
//	rho > 0.85
//	pw >= 0.5
//	wq > 2
//	state == unstable
//	state != stable
type condition struct {
	field     string
	op        string
	threshold float64 // numeric fields
	state     string  // field == "state"
}

var numericFields = map[string]func(types.Observation) (float64, bool){
	"rho":               func(o types.Observation) (float64, bool) { return o.Rho, true },
	"interarrival_time": func(o types.Observation) (float64, bool) { return o.InterarrivalTime, true },
	"service_time":      func(o types.Observation) (float64, bool) { return o.ServiceTime, true },
	"p0":                fromMetrics(func(o types.Observation) float64 { return o.Metrics.P0 }),
	"pw":                fromMetrics(func(o types.Observation) float64 { return o.Metrics.Pw }),
	"lq":                fromMetrics(func(o types.Observation) float64 { return o.Metrics.Lq }),
	"wq":                fromMetrics(func(o types.Observation) float64 { return o.Metrics.Wq }),
	"w":                 fromMetrics(func(o types.Observation) float64 { return o.Metrics.W }),
	"l":                 fromMetrics(func(o types.Observation) float64 { return o.Metrics.L }),
}

// fromMetrics reads a field that only exists while the source has a steady state.
func fromMetrics(get func(types.Observation) float64) func(types.Observation) (float64, bool) {
	return func(o types.Observation) (float64, bool) {
		if o.Metrics == nil {
			return 0, false
		}
		return get(o), true
	}
}

func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	c := condition{field: parts[0], op: parts[1]}

	if c.field == "state" {
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: state supports == and != only", s)
		}
		switch parts[2] {
		case types.StateStable, types.StateSaturating, types.StateUnstable, types.StateUnknown:
		default:
			return condition{}, fmt.Errorf("condition %q: unknown state %q", s, parts[2])
		}
		c.state = parts[2]
		return c, nil
	}

	if _, ok := numericFields[c.field]; !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return condition{}, fmt.Errorf("condition %q: threshold %q is not a finite number", s, parts[2])
	}
	c.threshold = v
	return c, nil
}

// eval reports whether obs satisfies the condition and the value it tested.
// Numeric conditions never fire for a source in the unknown state, and the
// queue metrics are absent while a source is unstable.
func (c condition) eval(obs types.Observation) (bool, float64) {
	if c.field == "state" {
		match := obs.State == c.state
		if c.op == "!=" {
			match = !match
		}
		return match, obs.Rho
	}
	if obs.State == types.StateUnknown {
		return false, 0
	}
	v, ok := numericFields[c.field](obs)
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.op, c.threshold), v
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
