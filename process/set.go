package process

import (
	"errors"
	"fmt"

	"github.com/openatmos/chemrock/matrix"
)

// ErrShapeMismatch reports inputs whose dimensions do not match the
// constructed topology.
var ErrShapeMismatch = errors.New("process: shape mismatch")

// Set assembles the forcing vector and the sparse Jacobian for a fixed list
// of processes against a fixed variable ordering. All index schedules are
// computed once at construction; the assembly loops perform no lookups and
// no allocation.
type Set struct {
	numberOfSpecies int
	numberOfRxns    int

	// flattened per-reaction reactant and product schedules
	numberOfReactants []int
	reactantIDs       []int
	numberOfProducts  []int
	productIDs        []int
	yields            []float64

	// Jacobian schedule: one entry per (reaction, independent-reactant
	// position), in reaction order. Each entry holds the pattern element
	// offset of J[row, independent] for every reactant row followed by
	// every product row; populated by SetJacobianFlatIDs.
	jacFlatIDs [][]int
}

// NewSet builds the assembly schedules for the given processes. Species are
// resolved through variableMap; an unknown species is an error.
func NewSet(processes []Process, variableMap map[string]int) (*Set, error) {
	s := &Set{
		numberOfSpecies: len(variableMap),
		numberOfRxns:    len(processes),
	}
	for i, p := range processes {
		if err := p.Validate(variableMap); err != nil {
			return nil, fmt.Errorf("process %d: %w", i, err)
		}
		s.numberOfReactants = append(s.numberOfReactants, len(p.Reactants))
		for _, r := range p.Reactants {
			s.reactantIDs = append(s.reactantIDs, variableMap[r])
		}
		s.numberOfProducts = append(s.numberOfProducts, len(p.Products))
		for _, y := range p.Products {
			s.productIDs = append(s.productIDs, variableMap[y.Name])
			s.yields = append(s.yields, y.Coefficient)
		}
	}
	return s, nil
}

// NonZeroJacobianElements enumerates the (row, col) coordinates that
// receive Jacobian contributions: for each reaction and each independent
// reactant column, one coordinate per reactant row and per product row.
func (s *Set) NonZeroJacobianElements() [][2]int {
	seen := make(map[[2]int]struct{})
	var elements [][2]int
	rOff, pOff := 0, 0
	for i := 0; i < s.numberOfRxns; i++ {
		nr, np := s.numberOfReactants[i], s.numberOfProducts[i]
		for ind := 0; ind < nr; ind++ {
			col := s.reactantIDs[rOff+ind]
			for j := 0; j < nr; j++ {
				s.addElement(seen, &elements, s.reactantIDs[rOff+j], col)
			}
			for j := 0; j < np; j++ {
				s.addElement(seen, &elements, s.productIDs[pOff+j], col)
			}
		}
		rOff += nr
		pOff += np
	}
	return elements
}

func (s *Set) addElement(seen map[[2]int]struct{}, elements *[][2]int, row, col int) {
	c := [2]int{row, col}
	if _, ok := seen[c]; !ok {
		seen[c] = struct{}{}
		*elements = append(*elements, c)
	}
}

// SetJacobianFlatIDs resolves the Jacobian schedule against the pattern of
// the given sparse matrix. Every coordinate from NonZeroJacobianElements
// must be structurally present; a missing slot is a construction bug and
// panics.
func (s *Set) SetJacobianFlatIDs(m *matrix.Sparse) {
	s.jacFlatIDs = s.jacFlatIDs[:0]
	rOff, pOff := 0, 0
	for i := 0; i < s.numberOfRxns; i++ {
		nr, np := s.numberOfReactants[i], s.numberOfProducts[i]
		for ind := 0; ind < nr; ind++ {
			col := s.reactantIDs[rOff+ind]
			ids := make([]int, 0, nr+np)
			for j := 0; j < nr; j++ {
				ids = append(ids, s.mustOffset(m, s.reactantIDs[rOff+j], col))
			}
			for j := 0; j < np; j++ {
				ids = append(ids, s.mustOffset(m, s.productIDs[pOff+j], col))
			}
			s.jacFlatIDs = append(s.jacFlatIDs, ids)
		}
		rOff += nr
		pOff += np
	}
}

func (s *Set) mustOffset(m *matrix.Sparse, row, col int) int {
	off, ok := m.NonZeroOffset(row, col)
	if !ok {
		panic(fmt.Sprintf("process: Jacobian element (%d,%d) missing from sparse pattern", row, col))
	}
	return off
}

// AddForcingTerms accumulates dy/dt into forcing. For each reaction the
// per-cell rate is k times the product of the reactant concentrations; each
// reactant row loses the rate, each product row gains yield times the rate.
func (s *Set) AddForcingTerms(rateConstants, variables, forcing *matrix.Dense) error {
	cells, cols := variables.Dims()
	if cols != s.numberOfSpecies {
		return fmt.Errorf("%w: variables have %d species, set has %d", ErrShapeMismatch, cols, s.numberOfSpecies)
	}
	rcCells, rcCols := rateConstants.Dims()
	if rcCells != cells || rcCols != s.numberOfRxns {
		return fmt.Errorf("%w: rate constants are %dx%d, want %dx%d", ErrShapeMismatch, rcCells, rcCols, cells, s.numberOfRxns)
	}
	if !forcing.SameShape(variables) {
		return fmt.Errorf("%w: forcing shape does not match variables", ErrShapeMismatch)
	}

	rc, v, f := rateConstants.AsSlice(), variables.AsSlice(), forcing.AsSlice()
	rcStride, vStride := rateConstants.Stride(), variables.Stride()
	for cell := 0; cell < cells; cell++ {
		rcBase := rateConstants.CellBase(cell)
		vBase := variables.CellBase(cell)
		rOff, pOff := 0, 0
		for i := 0; i < s.numberOfRxns; i++ {
			nr, np := s.numberOfReactants[i], s.numberOfProducts[i]
			rate := rc[rcBase+i*rcStride]
			for j := 0; j < nr; j++ {
				rate *= v[vBase+s.reactantIDs[rOff+j]*vStride]
			}
			for j := 0; j < nr; j++ {
				f[vBase+s.reactantIDs[rOff+j]*vStride] -= rate
			}
			for j := 0; j < np; j++ {
				f[vBase+s.productIDs[pOff+j]*vStride] += s.yields[pOff+j] * rate
			}
			rOff += nr
			pOff += np
		}
	}
	return nil
}

// AddJacobianTerms accumulates d(dy/dt)/dy into jac. For each reaction and
// each independent reactant, the partial of the rate is k times the product
// of the remaining reactant concentrations; it lands negatively on every
// reactant row and positively, scaled by the yield, on every product row of
// the independent reactant's column. SetJacobianFlatIDs must have been
// called with a matrix sharing jac's pattern.
func (s *Set) AddJacobianTerms(rateConstants, variables *matrix.Dense, jac *matrix.Sparse) error {
	cells, cols := variables.Dims()
	if cols != s.numberOfSpecies {
		return fmt.Errorf("%w: variables have %d species, set has %d", ErrShapeMismatch, cols, s.numberOfSpecies)
	}
	rcCells, rcCols := rateConstants.Dims()
	if rcCells != cells || rcCols != s.numberOfRxns {
		return fmt.Errorf("%w: rate constants are %dx%d, want %dx%d", ErrShapeMismatch, rcCells, rcCols, cells, s.numberOfRxns)
	}
	jCells, jN := jac.Dims()
	if jCells != cells || jN != s.numberOfSpecies {
		return fmt.Errorf("%w: jacobian is %d cells of %dx%d", ErrShapeMismatch, jCells, jN, jN)
	}
	if len(s.jacFlatIDs) == 0 {
		panic("process: SetJacobianFlatIDs must run before AddJacobianTerms")
	}

	rc, v, jv := rateConstants.AsSlice(), variables.AsSlice(), jac.AsSlice()
	rcStride, vStride, jStride := rateConstants.Stride(), variables.Stride(), jac.Stride()
	for cell := 0; cell < cells; cell++ {
		rcBase := rateConstants.CellBase(cell)
		vBase := variables.CellBase(cell)
		jBase := jac.CellBase(cell)
		rOff, pOff := 0, 0
		e := 0
		for i := 0; i < s.numberOfRxns; i++ {
			nr, np := s.numberOfReactants[i], s.numberOfProducts[i]
			for ind := 0; ind < nr; ind++ {
				dRate := rc[rcBase+i*rcStride]
				for j := 0; j < nr; j++ {
					if j == ind {
						continue
					}
					dRate *= v[vBase+s.reactantIDs[rOff+j]*vStride]
				}
				ids := s.jacFlatIDs[e]
				for j := 0; j < nr; j++ {
					jv[jBase+ids[j]*jStride] -= dRate
				}
				for j := 0; j < np; j++ {
					jv[jBase+ids[nr+j]*jStride] += s.yields[pOff+j] * dRate
				}
				e++
			}
			rOff += nr
			pOff += np
		}
	}
	return nil
}
