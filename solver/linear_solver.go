package solver

import (
	"github.com/openatmos/chemrock/matrix"
)

// LinearSolver factors a batched sparse matrix and solves L(Ux) = b per
// cell. The triangular solves run over pair lists recorded once at
// construction:
//
//	forward:  y_i = b_i - sum(j<i){ L[i,j]*y_j }        (L[i,i] is unity)
//	backward: x_i = ( y_i - sum(j>i){ U[i,j]*x_j } ) / U[i,i]
type LinearSolver struct {
	lu           *LUDecomposition
	Lower, Upper *matrix.Sparse

	pivotThreshold float64

	// solve schedules: one count per row (backward rows stored in
	// reverse order), pairs flattened alongside
	nLij []int
	lij  []solvePair
	nUij []int
	uij  []solvePair
	uii  []int
}

// solvePair multiplies the factor value at offset off with solution column
// col.
type solvePair struct {
	off int
	col int
}

// NewLinearSolver runs the symbolic factorization for the pattern of the
// given matrix and allocates the factor containers with matching batch
// shape and ordering.
func NewLinearSolver(a *matrix.Sparse, pivotThreshold float64) *LinearSolver {
	lu := NewLUDecomposition(a)
	cells, n := a.Dims()
	lower, upper := lu.Matrices(cells, a.GroupVectorSize())

	ls := &LinearSolver{
		lu:             lu,
		Lower:          lower,
		Upper:          upper,
		pivotThreshold: pivotThreshold,
		nLij:           make([]int, n),
		nUij:           make([]int, n),
		uii:            make([]int, n),
	}
	for i := 0; i < n; i++ {
		lo, hi := lower.RowElements(i)
		for e := lo; e < hi; e++ {
			if j := lower.ColIndex(e); j < i {
				ls.lij = append(ls.lij, solvePair{off: e, col: j})
				ls.nLij[i]++
			}
		}
	}
	for r := 0; r < n; r++ {
		i := n - 1 - r
		lo, hi := upper.RowElements(i)
		for e := lo; e < hi; e++ {
			if j := upper.ColIndex(e); j > i {
				ls.uij = append(ls.uij, solvePair{off: e, col: j})
				ls.nUij[r]++
			}
		}
		d, _ := upper.DiagonalOffset(i)
		ls.uii[r] = d
	}
	return ls
}

// Factor decomposes every cell of a into the solver's L and U containers.
func (ls *LinearSolver) Factor(a *matrix.Sparse) error {
	return ls.lu.Decompose(a, ls.Lower, ls.Upper, ls.pivotThreshold)
}

// Solve computes x such that L(Ux) = b for every cell, using the factors
// from the last call to Factor. b and x may alias.
func (ls *LinearSolver) Solve(b, x *matrix.Dense) {
	if x != b {
		x.Copy(b)
	}
	cells, n := x.Dims()
	xv := x.AsSlice()
	lv, uv := ls.Lower.AsSlice(), ls.Upper.AsSlice()
	xs, lvs, uvs := x.Stride(), ls.Lower.Stride(), ls.Upper.Stride()

	for cell := 0; cell < cells; cell++ {
		xBase := x.CellBase(cell)
		lBase := ls.Lower.CellBase(cell)
		uBase := ls.Upper.CellBase(cell)

		// forward substitution, unit diagonal
		e := 0
		for i := 0; i < n; i++ {
			v := xv[xBase+i*xs]
			for k := 0; k < ls.nLij[i]; k++ {
				p := ls.lij[e]
				e++
				v -= lv[lBase+p.off*lvs] * xv[xBase+p.col*xs]
			}
			xv[xBase+i*xs] = v
		}

		// backward substitution
		e = 0
		for r := 0; r < n; r++ {
			i := n - 1 - r
			v := xv[xBase+i*xs]
			for k := 0; k < ls.nUij[r]; k++ {
				p := ls.uij[e]
				e++
				v -= uv[uBase+p.off*uvs] * xv[xBase+p.col*xs]
			}
			xv[xBase+i*xs] = v / uv[uBase+ls.uii[r]*uvs]
		}
	}
}
