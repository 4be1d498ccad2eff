// Package system describes the chemical system being solved: the species
// present, the phases that hold them, and the per-cell thermodynamic
// conditions.
package system

import "sort"

// Species is a named chemical species.
type Species struct {
	Name string
	// Properties carries optional physical data (molar mass, density)
	// that rate parameterizations may consult.
	Properties map[string]float64
}

// Phase is an ordered collection of species.
type Phase struct {
	Species []Species
}

// NewPhase builds a phase from species names.
func NewPhase(names ...string) Phase {
	p := Phase{Species: make([]Species, len(names))}
	for i, n := range names {
		p.Species[i] = Species{Name: n}
	}
	return p
}

// System holds the species content of one grid cell: a gas phase plus any
// number of named condensed phases.
type System struct {
	GasPhase Phase
	Phases   map[string]Phase
}

// StateSize returns the number of concentrations required to store the
// system state.
func (s System) StateSize() int {
	n := len(s.GasPhase.Species)
	for _, p := range s.Phases {
		n += len(p.Species)
	}
	return n
}

// UniqueNames returns the state variable names in order: gas-phase species
// first, then each named phase's species prefixed with the phase name.
func (s System) UniqueNames() []string {
	names := make([]string, 0, s.StateSize())
	for _, sp := range s.GasPhase.Species {
		names = append(names, sp.Name)
	}
	phases := make([]string, 0, len(s.Phases))
	for phase := range s.Phases {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		for _, sp := range s.Phases[phase].Species {
			names = append(names, phase+"."+sp.Name)
		}
	}
	return names
}

// Conditions is the thermodynamic state of one grid cell.
type Conditions struct {
	Temperature float64 // [K]
	Pressure    float64 // [Pa]
	AirDensity  float64 // [mol m-3]
}
