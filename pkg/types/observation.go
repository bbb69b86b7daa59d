package types

import (
	"time"

	"github.com/queuelab/queuelab/pkg/erlangc"
)

// Observation states.
const (
	StateStable     = "stable"     // ρ below the saturation threshold
	StateSaturating = "saturating" // threshold ≤ ρ < 1
	StateUnstable   = "unstable"   // ρ ≥ 1, no steady state
	StateUnknown    = "unknown"    // no baseline, no traffic, or scrape failure
)

// SaturationThreshold is the utilization at which a stable source is
// reported as saturating.
const SaturationThreshold = 0.8

// StateForRho classifies utilization using SaturationThreshold.
func StateForRho(rho float64) string {
	switch {
	case rho >= 1:
		return StateUnstable
	case rho >= SaturationThreshold:
		return StateSaturating
	default:
		return StateStable
	}
}

// Observation is one evaluated sample of a live service: the interarrival and
// service times the agent measured, and the M/M/c metrics derived from them.
type Observation struct {
	SourceID   string    `json:"source_id"`
	Endpoint   string    `json:"endpoint,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	State      string    `json:"state"`

	// Measured inputs, minutes. Zero when State is unknown.
	InterarrivalTime float64 `json:"interarrival_time"`
	ServiceTime      float64 `json:"service_time"`
	Servers          int     `json:"servers"`

	// Rho and OfferedLoad are reported for unstable sources too; Metrics is
	// nil unless a steady state exists.
	Rho         float64          `json:"rho"`
	OfferedLoad float64          `json:"offered_load"`
	Metrics     *erlangc.Metrics `json:"metrics,omitempty"`

	ArrivalsPM float64 `json:"arrivals_pm"` // arrivals per minute over the last window
	UptimePct  float64 `json:"uptime_pct"`  // share of recent scrapes that succeeded

	// Message explains an unknown or unstable state in plain words.
	Message string `json:"message,omitempty"`
}
