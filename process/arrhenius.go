package process

import (
	"math"

	"github.com/openatmos/chemrock/system"
)

// ArrheniusParameters configures an Arrhenius rate constant
//
//	k = A * exp(C/T) * (T/D)^B * (1 + E*P)
//
// Zero-valued optional parameters default to A=1, B=0, C=0, D=300, E=0.
type ArrheniusParameters struct {
	A float64 // pre-exponential factor
	B float64 // temperature exponent
	C float64 // exponential term, -Ea/kB [K]
	D float64 // reference temperature [K]
	E float64 // pressure scaling [Pa-1]
}

// Arrhenius is the standard thermal rate constant.
type Arrhenius struct {
	p ArrheniusParameters
}

// NewArrhenius builds an Arrhenius rate constant, applying defaults for
// unset parameters.
func NewArrhenius(p ArrheniusParameters) Arrhenius {
	if p.A == 0 {
		p.A = 1
	}
	if p.D == 0 {
		p.D = 300
	}
	return Arrhenius{p: p}
}

func (a Arrhenius) Calculate(c system.Conditions, _ []float64) float64 {
	p := a.p
	return p.A * math.Exp(p.C/c.Temperature) *
		math.Pow(c.Temperature/p.D, p.B) * (1.0 + p.E*c.Pressure)
}

func (Arrhenius) CustomParameterCount() int { return 0 }
