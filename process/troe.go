package process

import (
	"math"

	"github.com/openatmos/chemrock/system"
)

// TroeParameters configures a Troe (fall-off) rate constant. The low- and
// high-pressure limits each take the Arrhenius form
// kx = kx_A * exp(kx_C/T) * (T/300)^kx_B.
type TroeParameters struct {
	K0A   float64
	K0B   float64
	K0C   float64
	KinfA float64
	KinfB float64
	KinfC float64
	Fc    float64
	N     float64
}

// Troe is the three-body fall-off rate constant.
//
//	k = k0*M / (1 + k0*M/kinf) * Fc^(1 / (1 + (1/N)*log10(k0*M/kinf)^2))
type Troe struct {
	p TroeParameters
}

// NewTroe builds a Troe rate constant, applying defaults K0A=1, KinfA=1,
// Fc=0.6, N=1 for unset parameters.
func NewTroe(p TroeParameters) Troe {
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
	return Troe{p: p}
}

func (t Troe) Calculate(c system.Conditions, _ []float64) float64 {
	p := t.p
	k0 := p.K0A * math.Exp(p.K0C/c.Temperature) * math.Pow(c.Temperature/300.0, p.K0B)
	kinf := p.KinfA * math.Exp(p.KinfC/c.Temperature) * math.Pow(c.Temperature/300.0, p.KinfB)
	m := c.AirDensity
	return k0 * m / (1.0 + k0*m/kinf) *
		math.Pow(p.Fc, 1.0/(1.0+1.0/p.N*math.Pow(math.Log10(k0*m/kinf), 2)))
}

func (Troe) CustomParameterCount() int { return 0 }
