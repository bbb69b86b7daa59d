package api

import (
	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/pkg/types"
)

// EvaluationRequest is the JSON body of POST /api/v1/evaluate. Servers is
// optional and falls back to the configured default.
type EvaluationRequest struct {
	InterarrivalTime float64 `json:"interarrival_time"`
	ServiceTime      float64 `json:"service_time"`
	Servers          *int    `json:"servers,omitempty"`
}

// EvaluationResponse is the payload of a successful evaluation.
type EvaluationResponse struct {
	Input   erlangc.Input   `json:"input"`
	Metrics erlangc.Metrics `json:"metrics"`
	Steps   []erlangc.Step  `json:"steps"`
}

// SourceResponse is one source in GET /api/v1/sources and the snapshot.
type SourceResponse struct {
	types.Observation
	Hints    []DiagnosticHint `json:"hints"`
	LastSeen string           `json:"last_seen"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is the worst state across live sources: unstable, saturating,
	// stable, or unknown when nothing is reporting.
	State           string  `json:"state"`
	SourceCount     int     `json:"source_count"`
	StableCount     int     `json:"stable_count"`
	SaturatingCount int     `json:"saturating_count"`
	UnstableCount   int     `json:"unstable_count"`
	UnknownCount    int     `json:"unknown_count"`
	WorstRho        float64 `json:"worst_rho"`
	WorstSource     string  `json:"worst_source,omitempty"`
	AlertCount      int     `json:"alert_count"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the
// WebSocket feed.
type SnapshotResponse struct {
	Sources     []SourceResponse `json:"sources"`
	Health      HealthResponse   `json:"health"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// errorResponse is the JSON error body. Kind is one of the erlangc kinds,
// "not_found" or "method_not_allowed".
type errorResponse struct {
	Error string   `json:"error"`
	Kind  string   `json:"kind,omitempty"`
	Field string   `json:"field,omitempty"`
	Rho   *float64 `json:"rho,omitempty"`
}
