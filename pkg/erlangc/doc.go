// Package erlangc evaluates steady-state metrics of an M/M/c queue with the
// Erlang-C formula.
//
// Evaluate(Input) is a pure function: it keeps no state, performs no I/O and is
// safe for concurrent use. All times are in minutes.
//
//	λ  = 1 / interarrival          a  = λ / μ
//	μ  = 1 / service               ρ  = a / c
//	P0 = 1 / (Σ_{n<c} aⁿ/n! + (a^c/c!)·1/(1−ρ))
//	Pw = (a^c/c!)·1/(1−ρ) · P0
//	Lq = P0·(a^c·ρ) / (c!·(1−ρ)²)
//	Wq = Lq / λ     W = Wq + 1/μ     L = λ·W
//
// A system with ρ ≥ 1 has no steady state; Evaluate returns *InstabilityError
// and no metrics. Inputs that are missing, non-positive or non-finite return
// *ValidationError. Use Kind, errors.Is (ErrUnstable, ErrInvalidInput) or
// errors.As to branch on the failure.
//
// Metrics.Steps() renders the computation as an ordered derivation for UIs
// that show the working.
package erlangc
