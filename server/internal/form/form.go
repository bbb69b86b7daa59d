// Package form turns raw user input (HTML form fields, query strings, CLI
// flags) into a validated erlangc.Input.
//
// Every rejection is an *erlangc.ValidationError, so callers branch on
// erlangc.Kind rather than on message text. Inputs that pass Parse never
// fail validation inside the evaluator.
package form

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/queuelab/queuelab/pkg/erlangc"
)

// Field names shared by the HTML form, the query-string API and error reports.
const (
	FieldInterarrival = "interarrival"
	FieldServiceTime  = "service_time"
	FieldServers      = "servers"
)

// DefaultServers is the server count used when none is supplied (M/M/2).
const DefaultServers = 2

// Defaults controls how missing or out-of-range server counts are handled.
type Defaults struct {
	// Servers is used when the servers field is empty. Zero means DefaultServers.
	Servers int

	// MaxServers rejects larger server counts when positive.
	MaxServers int
}

// ServerCount returns the server count applied when a request omits one.
func (d Defaults) ServerCount() int {
	if d.Servers > 0 {
		return d.Servers
	}
	return DefaultServers
}

// Parse validates the three raw inputs and returns an evaluator Input.
func Parse(interarrival, service, servers string, d Defaults) (erlangc.Input, error) {
	interarrival = strings.TrimSpace(interarrival)
	service = strings.TrimSpace(service)
	if interarrival == "" || service == "" {
		return erlangc.Input{}, &erlangc.ValidationError{Reason: "input must not be empty"}
	}

	ia, err := parsePositive(FieldInterarrival, interarrival)
	if err != nil {
		return erlangc.Input{}, err
	}
	st, err := parsePositive(FieldServiceTime, service)
	if err != nil {
		return erlangc.Input{}, err
	}
	c, err := parseServers(servers, d)
	if err != nil {
		return erlangc.Input{}, err
	}

	return erlangc.Input{InterarrivalTime: ia, ServiceTime: st, Servers: c}, nil
}

// FromRequest reads the interarrival, service_time and servers fields from
// r's form (POST body or query string) and validates them with Parse.
func FromRequest(r *http.Request, d Defaults) (erlangc.Input, error) {
	if err := r.ParseForm(); err != nil {
		return erlangc.Input{}, &erlangc.ValidationError{Reason: "malformed form data"}
	}
	return Parse(r.Form.Get(FieldInterarrival), r.Form.Get(FieldServiceTime), r.Form.Get(FieldServers), d)
}

// Check validates input that arrived already typed, such as a JSON body.
// It applies erlangc.Validate and the MaxServers cap.
func Check(in erlangc.Input, d Defaults) error {
	if err := erlangc.Validate(in); err != nil {
		return err
	}
	if d.MaxServers > 0 && in.Servers > d.MaxServers {
		return &erlangc.ValidationError{
			Field:  FieldServers,
			Value:  strconv.Itoa(in.Servers),
			Reason: "must be at most " + strconv.Itoa(d.MaxServers),
		}
	}
	return nil
}

func parsePositive(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &erlangc.ValidationError{Field: field, Value: raw, Reason: "must be a number"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &erlangc.ValidationError{Field: field, Value: raw, Reason: "must be a finite number"}
	}
	if v <= 0 {
		return 0, &erlangc.ValidationError{Field: field, Value: raw, Reason: "must be positive (> 0)"}
	}
	if math.IsInf(1/v, 0) {
		return 0, &erlangc.ValidationError{Field: field, Value: raw, Reason: "too small: its rate overflows"}
	}
	return v, nil
}

func parseServers(raw string, d Defaults) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return d.ServerCount(), nil
	}
	c, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &erlangc.ValidationError{Field: FieldServers, Value: raw, Reason: "must be a whole number"}
	}
	if c < 1 {
		return 0, &erlangc.ValidationError{Field: FieldServers, Value: raw, Reason: "must be at least 1"}
	}
	if d.MaxServers > 0 && c > d.MaxServers {
		return 0, &erlangc.ValidationError{
			Field:  FieldServers,
			Value:  raw,
			Reason: "must be at most " + strconv.Itoa(d.MaxServers),
		}
	}
	return c, nil
}
