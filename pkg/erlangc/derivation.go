package erlangc

import "fmt"

// Step is one line of the worked derivation: the symbol being computed, the
// formula with numbers substituted, and the resulting value.
type Step struct {
	Symbol  string  `json:"symbol"`
	Label   string  `json:"label"`
	Formula string  `json:"formula"`
	Value   float64 `json:"value"`
}

// Steps returns the derivation of m in the order Evaluate computes it.
func (m Metrics) Steps() []Step {
	c := m.Servers
	a, rho := num(m.OfferedLoad), num(m.Rho)

	sum := fmt.Sprintf("Σ_{n=0}^{%d} %sⁿ/n!", c-1, a)
	last := fmt.Sprintf("(%s^%d / %d!) · 1/(1 − %s)", a, c, c, rho)
	p0 := fmt.Sprintf("1 / (%s + %s)", num(m.SumTerms), num(m.LastTerm))
	if m.Scale != 0 {
		scaled := fmt.Sprintf(" · e^−%s", num(m.Scale))
		sum += scaled
		last += scaled
		p0 = fmt.Sprintf("e^−%s / (%s + %s)", num(m.Scale), num(m.SumTerms), num(m.LastTerm))
	}

	return []Step{
		{"λ", "arrival rate", fmt.Sprintf("1 / %s", num(m.InterarrivalTime)), m.Lambda},
		{"μ", "service rate", fmt.Sprintf("1 / %s", num(m.ServiceTime)), m.Mu},
		{"a", "offered load", fmt.Sprintf("λ / μ = %s / %s", num(m.Lambda), num(m.Mu)), m.OfferedLoad},
		{"ρ", "utilization", fmt.Sprintf("a / c = %s / %d", a, c), m.Rho},
		{"Σ", "sum terms", sum, m.SumTerms},
		{"T", "last term", last, m.LastTerm},
		{"P0", "probability empty", p0, m.P0},
		{"Pw", "probability of waiting", pwFormula(m), m.Pw},
		{"Lq", "mean queue length", fmt.Sprintf("%s · (%s^%d · %s) / (%d! · (1 − %s)²)", num(m.P0), a, c, rho, c, rho), m.Lq},
		{"Wq", "mean wait in queue", fmt.Sprintf("Lq / λ = %s / %s", num(m.Lq), num(m.Lambda)), m.Wq},
		{"W", "mean time in system", fmt.Sprintf("Wq + 1/μ = %s + %s", num(m.Wq), num(m.ServiceTime)), m.W},
		{"L", "mean number in system", fmt.Sprintf("λ · W = %s · %s", num(m.Lambda), num(m.W)), m.L},
	}
}

func pwFormula(m Metrics) string {
	if m.Scale != 0 {
		return fmt.Sprintf("%s / (%s + %s)", num(m.LastTerm), num(m.SumTerms), num(m.LastTerm))
	}
	return fmt.Sprintf("%s · %s", num(m.LastTerm), num(m.P0))
}

func num(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
