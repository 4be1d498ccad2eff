package solver

import (
	"fmt"
	"math"

	"github.com/openatmos/chemrock/matrix"
)

// LUDecomposition performs Doolittle factorization over a fixed sparsity
// pattern. The symbolic phase runs once at construction: it computes the
// fill-in pattern of L (unit lower triangular) and U (upper triangular) and
// records the factorization as flat schedules of value offsets, so the
// numeric phase walks straight-line index lists with no pattern lookups.
//
// The dense algorithm being specialized is
//
//	for i = 0...n-1
//	  for k = i...n-1 where U[i,k] is structural
//	    U[i,k] = A[i,k] - sum(j<i){ L[i,j]*U[j,k] }
//	  L[i,i] = 1
//	  for k = i+1...n-1 where L[k,i] is structural
//	    L[k,i] = (A[k,i] - sum(j<i){ L[k,j]*U[j,i] }) / U[i,i]
type LUDecomposition struct {
	n int

	// per pivot row: number of upper and lower middle-loop terms
	nTerms [][2]int
	// flattened middle-loop terms for U and L
	uTerms []luTerm
	lTerms []luTerm
	// flattened inner-loop offset pairs (lhs in L, rhs in U)
	uPairs [][2]int
	lPairs [][2]int
	// offsets of U[i,i] and L[i,i] per pivot row
	uii []int
	lii []int

	lowerPattern [][]bool
	upperPattern [][]bool
}

// luTerm computes one destination value: start from A[src] (or zero for a
// fill-in slot), subtract nPair products from the pair schedule.
type luTerm struct {
	dst   int
	src   int // offset in A, -1 for fill-in
	nPair int
}

// NewLUDecomposition runs the symbolic factorization for the pattern of the
// given matrix. Every diagonal entry must be structurally present;
// a structurally singular pattern panics.
func NewLUDecomposition(a *matrix.Sparse) *LUDecomposition {
	_, n := a.Dims()
	pat := a.Pattern()

	// Simulate elimination to find fill-in: after pivot i, any row k>i
	// with a non-zero in column i picks up row i's pattern right of i.
	filled := make([][]bool, n)
	for i := range filled {
		filled[i] = make([]bool, n)
		copy(filled[i], pat[i])
	}
	for i := 0; i < n; i++ {
		if !filled[i][i] {
			panic(fmt.Sprintf("solver: LU pattern is structurally singular at row %d", i))
		}
		for k := i + 1; k < n; k++ {
			if !filled[k][i] {
				continue
			}
			for m := i + 1; m < n; m++ {
				if filled[i][m] {
					filled[k][m] = true
				}
			}
		}
	}

	lu := &LUDecomposition{
		n:            n,
		lowerPattern: make([][]bool, n),
		upperPattern: make([][]bool, n),
	}
	for i := 0; i < n; i++ {
		lu.lowerPattern[i] = make([]bool, n)
		lu.upperPattern[i] = make([]bool, n)
		lu.lowerPattern[i][i] = true
		for j := 0; j <= i; j++ {
			lu.lowerPattern[i][j] = filled[i][j] || i == j
		}
		for j := i; j < n; j++ {
			lu.upperPattern[i][j] = filled[i][j]
		}
	}

	lower := patternBuilder(lu.lowerPattern).Build()
	upper := patternBuilder(lu.upperPattern).Build()

	lu.nTerms = make([][2]int, n)
	lu.uii = make([]int, n)
	lu.lii = make([]int, n)
	for i := 0; i < n; i++ {
		lu.lii[i], _ = lower.NonZeroOffset(i, i)
		// upper middle loop
		for k := i; k < n; k++ {
			if !lu.upperPattern[i][k] {
				continue
			}
			t := luTerm{src: -1}
			t.dst, _ = upper.NonZeroOffset(i, k)
			if e, ok := a.NonZeroOffset(i, k); ok {
				t.src = e
			}
			for j := 0; j < i; j++ {
				if lu.lowerPattern[i][j] && lu.upperPattern[j][k] {
					lij, _ := lower.NonZeroOffset(i, j)
					ujk, _ := upper.NonZeroOffset(j, k)
					lu.uPairs = append(lu.uPairs, [2]int{lij, ujk})
					t.nPair++
				}
			}
			lu.uTerms = append(lu.uTerms, t)
			lu.nTerms[i][0]++
		}
		lu.uii[i], _ = upper.NonZeroOffset(i, i)
		// lower middle loop
		for k := i + 1; k < n; k++ {
			if !lu.lowerPattern[k][i] {
				continue
			}
			t := luTerm{src: -1}
			t.dst, _ = lower.NonZeroOffset(k, i)
			if e, ok := a.NonZeroOffset(k, i); ok {
				t.src = e
			}
			for j := 0; j < i; j++ {
				if lu.lowerPattern[k][j] && lu.upperPattern[j][i] {
					lkj, _ := lower.NonZeroOffset(k, j)
					uji, _ := upper.NonZeroOffset(j, i)
					lu.lPairs = append(lu.lPairs, [2]int{lkj, uji})
					t.nPair++
				}
			}
			lu.lTerms = append(lu.lTerms, t)
			lu.nTerms[i][1]++
		}
	}
	return lu
}

func patternBuilder(pat [][]bool) *matrix.SparseBuilder {
	b := matrix.NewSparseBuilder(len(pat))
	for i, row := range pat {
		for j, set := range row {
			if set {
				b.WithElement(i, j)
			}
		}
	}
	return b
}

// Matrices allocates L and U value containers matching the recorded fill-in
// pattern, batched over the given number of cells and ordered by the given
// group vector size.
func (lu *LUDecomposition) Matrices(cells, groupSize int) (lower, upper *matrix.Sparse) {
	lower = patternBuilder(lu.lowerPattern).
		NumberOfCells(cells).VectorOrdering(groupSize).Build()
	upper = patternBuilder(lu.upperPattern).
		NumberOfCells(cells).VectorOrdering(groupSize).Build()
	return lower, upper
}

// Decompose factors every cell of A into L and U over the recorded
// schedule. A pivot whose magnitude falls below pivotThreshold aborts with
// ErrSingularMatrix.
func (lu *LUDecomposition) Decompose(a, lower, upper *matrix.Sparse, pivotThreshold float64) error {
	cells, _ := a.Dims()
	av, lv, uv := a.AsSlice(), lower.AsSlice(), upper.AsSlice()
	as, ls, us := a.Stride(), lower.Stride(), upper.Stride()

	for cell := 0; cell < cells; cell++ {
		aBase := a.CellBase(cell)
		lBase := lower.CellBase(cell)
		uBase := upper.CellBase(cell)

		iU, iL, iUP, iLP := 0, 0, 0, 0
		for i := 0; i < lu.n; i++ {
			for k := 0; k < lu.nTerms[i][0]; k++ {
				t := lu.uTerms[iU]
				iU++
				var v float64
				if t.src >= 0 {
					v = av[aBase+t.src*as]
				}
				for p := 0; p < t.nPair; p++ {
					pair := lu.uPairs[iUP]
					iUP++
					v -= lv[lBase+pair[0]*ls] * uv[uBase+pair[1]*us]
				}
				uv[uBase+t.dst*us] = v
			}
			pivot := uv[uBase+lu.uii[i]*us]
			if math.Abs(pivot) < pivotThreshold {
				return fmt.Errorf("%w: pivot %d in cell %d", ErrSingularMatrix, i, cell)
			}
			// L[i,i] = 1
			lv[lBase+lu.lii[i]*ls] = 1
			for k := 0; k < lu.nTerms[i][1]; k++ {
				t := lu.lTerms[iL]
				iL++
				var v float64
				if t.src >= 0 {
					v = av[aBase+t.src*as]
				}
				for p := 0; p < t.nPair; p++ {
					pair := lu.lPairs[iLP]
					iLP++
					v -= lv[lBase+pair[0]*ls] * uv[uBase+pair[1]*us]
				}
				lv[lBase+t.dst*ls] = v / pivot
			}
		}
	}
	return nil
}
