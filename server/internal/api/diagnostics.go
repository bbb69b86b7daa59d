package api

import (
	"fmt"
	"math"

	"github.com/queuelab/queuelab/pkg/types"
)

// saturationTarget is the utilization the capacity hints plan for.
const saturationTarget = types.SaturationThreshold

// DiagnosticHint is one plain-language insight about a source, shown as a
// chip on the source card.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from an observation, most severe first.
func computeDiagnostics(obs types.Observation) []DiagnosticHint {
	var hints []DiagnosticHint

	switch obs.State {
	case types.StateUnknown:
		title, detail := "Warming up", "The agent needs two consecutive scrapes to measure rates. "+
			"Metrics appear after the next scrape cycle."
		if obs.Message != "" {
			title, detail = "No measurement", obs.Message
		}
		return []DiagnosticHint{{Key: "unknown", Level: "info", Title: title, Detail: detail}}

	case types.StateUnstable:
		rho := obs.Rho
		need := serversFor(obs.OfferedLoad, 1)
		hints = append(hints, DiagnosticHint{
			Key:   "unstable",
			Level: "critical",
			Title: fmt.Sprintf("Unstable, ρ = %.2f", rho),
			Detail: fmt.Sprintf(
				"Work arrives faster than %d server(s) can finish it (offered load %.2f Erlang). "+
					"The queue grows without bound. At least %d servers are needed for any steady state, "+
					"%d to stay below %.0f%% utilization.",
				obs.Servers, obs.OfferedLoad, need, serversFor(obs.OfferedLoad, saturationTarget), saturationTarget*100),
			Value: &rho,
		})

	case types.StateSaturating:
		rho := obs.Rho
		hints = append(hints, DiagnosticHint{
			Key:   "saturating",
			Level: "warning",
			Title: fmt.Sprintf("Near saturation, ρ = %.2f", rho),
			Detail: fmt.Sprintf(
				"Utilization is above %.0f%%. Waiting time rises steeply as ρ approaches 1. "+
					"%d server(s) would bring utilization below %.0f%%.",
				saturationTarget*100, serversFor(obs.OfferedLoad, saturationTarget), saturationTarget*100),
			Value: &rho,
		})
	}

	if m := obs.Metrics; m != nil && m.Pw >= 0.5 {
		pw := m.Pw
		hints = append(hints, DiagnosticHint{
			Key:   "most_wait",
			Level: "warning",
			Title: fmt.Sprintf("%.0f%% of arrivals wait", pw*100),
			Detail: fmt.Sprintf("An arriving request finds every server busy with probability %.2f "+
				"and then waits %.2f minutes on average.", pw, m.Wq),
			Value: &pw,
		})
	}

	if obs.UptimePct > 0 && obs.UptimePct < 100 {
		v := obs.UptimePct
		level := "info"
		switch {
		case v < 70:
			level = "critical"
		case v < 90:
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "uptime",
			Level: level,
			Title: fmt.Sprintf("%.0f%% uptime", v),
			Detail: fmt.Sprintf("The endpoint answered %.0f%% of recent scrapes. "+
				"Rates measured across a failed scrape span a longer window.", v),
			Value: &v,
		})
	}

	if len(hints) == 0 {
		rho := obs.Rho
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("Utilization is %.0f%% with %d server(s).", rho*100, obs.Servers),
			Value:  &rho,
		})
	}
	return hints
}

// serversFor is the smallest server count that keeps offered load a below
// utilization target.
func serversFor(a, target float64) int {
	c := int(math.Floor(a/target)) + 1
	if c < 1 {
		c = 1
	}
	return c
}
