package process

import (
	"math"

	"github.com/openatmos/chemrock/system"
)

// TunnelingParameters configures a quantum tunneling rate constant
//
//	k = A * exp(-B/T) * exp(C/T^3)
//
// with defaults A=1, B=0, C=0.
type TunnelingParameters struct {
	A float64
	B float64
	C float64
}

// Tunneling is the Wennberg tunneling rate constant.
type Tunneling struct {
	p TunnelingParameters
}

// NewTunneling builds a tunneling rate constant, applying defaults for
// unset parameters.
func NewTunneling(p TunnelingParameters) Tunneling {
	if p.A == 0 {
		p.A = 1
	}
	return Tunneling{p: p}
}

func (t Tunneling) Calculate(c system.Conditions, _ []float64) float64 {
	p := t.p
	T := c.Temperature
	return p.A * math.Exp(-p.B/T) * math.Exp(p.C/(T*T*T))
}

func (Tunneling) CustomParameterCount() int { return 0 }
