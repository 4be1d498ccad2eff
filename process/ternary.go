package process

import (
	"math"

	"github.com/openatmos/chemrock/system"
)

// TernaryChemicalActivationParameters shares the Troe parameter set; only
// the blending of the two limits differs.
type TernaryChemicalActivationParameters = TroeParameters

// TernaryChemicalActivation is the chemical-activation variant of the
// fall-off rate constant.
//
//	k = k0 / (1 + k0*M/kinf) * Fc^(1 / (1 + (1/N)*log10(k0*M/kinf)^2))
type TernaryChemicalActivation struct {
	p TernaryChemicalActivationParameters
}

// NewTernaryChemicalActivation builds a ternary chemical activation rate
// constant with the same defaults as NewTroe.
func NewTernaryChemicalActivation(p TernaryChemicalActivationParameters) TernaryChemicalActivation {
	if p.K0A == 0 {
		p.K0A = 1
	}
	if p.KinfA == 0 {
		p.KinfA = 1
	}
	if p.Fc == 0 {
		p.Fc = 0.6
	}
	if p.N == 0 {
		p.N = 1
	}
	return TernaryChemicalActivation{p: p}
}

func (t TernaryChemicalActivation) Calculate(c system.Conditions, _ []float64) float64 {
	p := t.p
	k0 := p.K0A * math.Exp(p.K0C/c.Temperature) * math.Pow(c.Temperature/300.0, p.K0B)
	kinf := p.KinfA * math.Exp(p.KinfC/c.Temperature) * math.Pow(c.Temperature/300.0, p.KinfB)
	m := c.AirDensity
	return k0 / (1.0 + k0*m/kinf) *
		math.Pow(p.Fc, 1.0/(1.0+1.0/p.N*math.Pow(math.Log10(k0*m/kinf), 2)))
}

func (TernaryChemicalActivation) CustomParameterCount() int { return 0 }
