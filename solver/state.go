package solver

import (
	"github.com/openatmos/chemrock/matrix"
	"github.com/openatmos/chemrock/system"
)

// State holds everything the solver advances or consumes per integration
// call: concentrations, rate constants, per-cell conditions, and the
// user-supplied custom rate parameters.
type State struct {
	// Variables maps (cell, species) to a concentration [mol m-3].
	Variables *matrix.Dense
	// RateConstants maps (cell, process) to k; refreshed by UpdateState.
	RateConstants *matrix.Dense
	// Conditions holds the thermodynamic state of each cell.
	Conditions []system.Conditions
	// CustomRateParameters holds the per-cell inputs consumed by rate
	// constant evaluators (photolysis frequencies, host-model rates).
	CustomRateParameters [][]float64
	// VariableMap resolves a species name to its column, after any state
	// reordering chosen at solver construction.
	VariableMap map[string]int

	variableNames []string
}

// VariableNames returns the state variable names in column order.
func (s *State) VariableNames() []string {
	names := make([]string, len(s.variableNames))
	copy(names, s.variableNames)
	return names
}

// SetConcentration assigns a species concentration in every cell.
func (s *State) SetConcentration(name string, values []float64) bool {
	col, ok := s.VariableMap[name]
	if !ok {
		return false
	}
	rows, _ := s.Variables.Dims()
	for cell := 0; cell < rows && cell < len(values); cell++ {
		s.Variables.Set(cell, col, values[cell])
	}
	return true
}

// Concentration reads one species concentration from one cell.
func (s *State) Concentration(cell int, name string) (float64, bool) {
	col, ok := s.VariableMap[name]
	if !ok {
		return 0, false
	}
	return s.Variables.At(cell, col), true
}
