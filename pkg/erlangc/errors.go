package erlangc

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	ErrInvalidInput = errors.New("erlangc: invalid input")
	ErrUnstable     = errors.New("erlangc: system is unstable")
)

// Error kinds returned by Kind.
const (
	KindValidation  = "validation"
	KindInstability = "instability"
	KindInternal    = "internal"
)

// ValidationError reports an input that cannot be evaluated: missing,
// non-numeric, non-positive or non-finite.
type ValidationError struct {
	// Field is the input name as the caller knows it, e.g. "interarrival_time".
	Field string
	// Value is the raw value that was rejected, if any.
	Value string
	// Reason is a short human-readable explanation.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidInput) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// InstabilityError is returned when utilization ρ ≥ 1. The queue grows
// without bound and no steady-state metrics exist.
type InstabilityError struct {
	Rho         float64
	OfferedLoad float64
	Servers     int
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf(
		"system is unstable: ρ = %.4f ≥ 1 (offered load %.4f Erlang on %d server(s)), "+
			"no steady state exists; reduce arrivals or speed up service",
		e.Rho, e.OfferedLoad, e.Servers)
}

// Is makes errors.Is(err, ErrUnstable) true for any *InstabilityError.
func (e *InstabilityError) Is(target error) bool {
	return target == ErrUnstable
}

// Kind classifies err as KindValidation, KindInstability or KindInternal.
// It returns "" for a nil error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrUnstable):
		return KindInstability
	default:
		return KindInternal
	}
}
