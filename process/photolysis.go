package process

import "github.com/openatmos/chemrock/system"

// Photolysis reads a photolysis frequency from the cell's user-supplied
// rate parameters, scaled by a constant factor.
type Photolysis struct {
	ScalingFactor float64
}

// NewPhotolysis builds a photolysis rate constant with unit scaling.
func NewPhotolysis() Photolysis { return Photolysis{ScalingFactor: 1} }

func (p Photolysis) Calculate(_ system.Conditions, params []float64) float64 {
	return params[0] * p.ScalingFactor
}

func (Photolysis) CustomParameterCount() int { return 1 }

// UserDefined is a rate constant supplied directly by the host model, one
// value per cell per call to UpdateState.
type UserDefined struct {
	ScalingFactor float64
}

// NewUserDefined builds a user-defined rate constant with unit scaling.
func NewUserDefined() UserDefined { return UserDefined{ScalingFactor: 1} }

func (u UserDefined) Calculate(_ system.Conditions, params []float64) float64 {
	return params[0] * u.ScalingFactor
}

func (UserDefined) CustomParameterCount() int { return 1 }
