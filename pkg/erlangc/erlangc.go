package erlangc

import (
	"math"
	"math/big"
	"strconv"
)

// maxExactFactorial is the largest n whose factorial is finite as a float64.
// Terms above it are evaluated in log space.
const maxExactFactorial = 170

// Input holds the caller-supplied parameters of one evaluation.
type Input struct {
	// InterarrivalTime is the mean time between arrivals, in minutes.
	InterarrivalTime float64 `json:"interarrival_time"`

	// ServiceTime is the mean time to serve one customer, in minutes.
	ServiceTime float64 `json:"service_time"`

	// Servers is the number of parallel identical servers (c ≥ 1).
	Servers int `json:"servers"`
}

// Metrics is the complete steady-state result of one evaluation.
// A Metrics value is only ever returned fully populated.
type Metrics struct {
	InterarrivalTime float64 `json:"interarrival_time"`
	ServiceTime      float64 `json:"service_time"`

	Lambda      float64 `json:"lambda"`       // arrival rate, customers per minute
	Mu          float64 `json:"mu"`           // service rate per server, customers per minute
	Servers     int     `json:"servers"`      // c
	OfferedLoad float64 `json:"offered_load"` // a = λ/μ, in Erlangs
	Rho         float64 `json:"rho"`          // utilization a/c

	P0 float64 `json:"p0"` // probability the system is empty
	Pw float64 `json:"pw"` // probability an arrival waits (Erlang-C)
	Lq float64 `json:"lq"` // expected number waiting
	Wq float64 `json:"wq"` // expected wait in queue, minutes
	W  float64 `json:"w"`  // expected time in system, minutes
	L  float64 `json:"l"`  // expected number in system

	SumTerms float64 `json:"sum_terms"` // Σ_{n<c} aⁿ/n!
	LastTerm float64 `json:"last_term"` // (a^c/c!)·1/(1−ρ)

	// Scale is non-zero when SumTerms and LastTerm overflow float64. Both are
	// then reported divided by e^Scale, and P0 = e^−Scale/(SumTerms+LastTerm).
	Scale float64 `json:"scale,omitempty"`
}

// Evaluate computes M/M/c steady-state metrics for in.
//
// It returns *ValidationError when an input is non-positive or non-finite, or
// when the rates it implies overflow float64, and *InstabilityError when
// ρ ≥ 1. In both cases the returned Metrics is the zero value. A nil error
// always comes with finite metrics.
func Evaluate(in Input) (Metrics, error) {
	if err := Validate(in); err != nil {
		return Metrics{}, err
	}

	c := in.Servers
	lambda := 1.0 / in.InterarrivalTime
	mu := 1.0 / in.ServiceTime
	if math.IsInf(lambda, 0) {
		return Metrics{}, &ValidationError{Field: "interarrival_time", Value: formatFloat(in.InterarrivalTime),
			Reason: "too small: arrival rate overflows"}
	}
	if math.IsInf(mu, 0) {
		return Metrics{}, &ValidationError{Field: "service_time", Value: formatFloat(in.ServiceTime),
			Reason: "too small: service rate overflows"}
	}
	a := lambda / mu
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return Metrics{}, &ValidationError{Field: "service_time", Value: formatFloat(in.ServiceTime),
			Reason: "offered load λ/μ is not a finite number"}
	}
	rho := a / float64(c)

	if !(rho < 1.0) {
		return Metrics{}, &InstabilityError{Rho: rho, OfferedLoad: a, Servers: c}
	}

	sumTerms, cTerm := series(a, c)
	lastTerm := cTerm * (1.0 / (1.0 - rho))

	var p0, pw, lq, scale float64
	if total := sumTerms + lastTerm; !math.IsInf(total, 0) {
		p0 = 1.0 / total
		pw = lastTerm * p0
		// P0·(a^c·ρ)/(c!·(1−ρ)²) with a^c/c! already in cTerm.
		lq = p0 * cTerm * rho / math.Pow(1.0-rho, 2)
	} else {
		sumTerms, lastTerm, scale = scaledSeries(a, c, rho)
		total := sumTerms + lastTerm
		p0 = math.Exp(-scale) / total
		if p0 == 0 {
			p0 = math.SmallestNonzeroFloat64
		}
		pw = lastTerm / total
		lq = pw * rho / (1.0 - rho)
	}

	wq := lq / lambda
	w := wq + in.ServiceTime

	return Metrics{
		InterarrivalTime: in.InterarrivalTime,
		ServiceTime:      in.ServiceTime,
		Lambda:           lambda,
		Mu:               mu,
		Servers:          c,
		OfferedLoad:      a,
		Rho:              rho,
		P0:               p0,
		Pw:               pw,
		Lq:               lq,
		Wq:               wq,
		W:                w,
		L:                lambda * w,
		SumTerms:         sumTerms,
		LastTerm:         lastTerm,
		Scale:            scale,
	}, nil
}

// series returns Σ_{n<c} aⁿ/n! and a^c/c!. The factorial is only tracked up
// to maxExactFactorial; later terms come from logTerm. The loop stops early
// once the sum overflows or the terms past the peak at n = a underflow to 0.
func series(a float64, c int) (sum, cTerm float64) {
	fact := big.NewInt(1)
	for n := 0; n <= c; n++ {
		if n > 0 && n <= maxExactFactorial {
			fact.Mul(fact, big.NewInt(int64(n)))
		}
		t := term(a, n, fact)
		if n == c {
			return sum, t
		}
		if t == 0 && float64(n) > a {
			return sum, 0
		}
		sum += t
		if math.IsInf(sum, 0) {
			return sum, math.Inf(1)
		}
	}
	return sum, 0
}

// scaledSeries returns the sum and last term divided by e^scale, where scale
// is the log of the largest term, so neither overflows.
func scaledSeries(a float64, c int, rho float64) (sum, last, scale float64) {
	logLast := logTermLn(a, c) - math.Log1p(-rho)
	// aⁿ/n! peaks at n = ⌊a⌋.
	peak := c - 1
	if a < float64(peak) {
		peak = int(a)
	}
	scale = math.Max(logTermLn(a, peak), logLast)
	// Walk outwards from the peak; terms that underflow after scaling add nothing.
	for n := peak; n >= 0; n-- {
		t := math.Exp(logTermLn(a, n) - scale)
		if t == 0 {
			break
		}
		sum += t
	}
	for n := peak + 1; n < c; n++ {
		t := math.Exp(logTermLn(a, n) - scale)
		if t == 0 {
			break
		}
		sum += t
	}
	return sum, math.Exp(logLast - scale), scale
}

// Validate checks the preconditions of Evaluate without computing anything.
func Validate(in Input) error {
	if err := positiveFinite("interarrival_time", in.InterarrivalTime); err != nil {
		return err
	}
	if err := positiveFinite("service_time", in.ServiceTime); err != nil {
		return err
	}
	if in.Servers < 1 {
		return &ValidationError{
			Field:  "servers",
			Value:  strconv.Itoa(in.Servers),
			Reason: "must be a positive integer (≥ 1)",
		}
	}
	return nil
}

func positiveFinite(field string, v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &ValidationError{Field: field, Value: formatFloat(v), Reason: "must be a finite number"}
	case v <= 0:
		return &ValidationError{Field: field, Value: formatFloat(v), Reason: "must be positive (> 0)"}
	}
	return nil
}

// term returns aⁿ/n! where fact holds n! exactly.
func term(a float64, n int, fact *big.Int) float64 {
	if power, f, ok := exactParts(a, n, fact); ok {
		return power / f
	}
	return logTerm(a, n)
}

// exactParts returns aⁿ and n! as float64 when both are finite.
func exactParts(a float64, n int, fact *big.Int) (power, f float64, ok bool) {
	if n > maxExactFactorial {
		return 0, 0, false
	}
	power = math.Pow(a, float64(n))
	if math.IsInf(power, 0) {
		return 0, 0, false
	}
	f, _ = new(big.Float).SetInt(fact).Float64()
	return power, f, true
}

// logTerm evaluates aⁿ/n! as exp(n·ln a − ln n!) for n where n! or aⁿ
// overflows float64.
func logTerm(a float64, n int) float64 {
	if a == 0 {
		return 0
	}
	return math.Exp(logTermLn(a, n))
}

// logTermLn returns ln(aⁿ/n!) for a > 0.
func logTermLn(a float64, n int) float64 {
	lg, _ := math.Lgamma(float64(n) + 1)
	return float64(n)*math.Log(a) - lg
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
