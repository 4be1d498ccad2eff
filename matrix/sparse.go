package matrix

import (
	"fmt"
	"sort"
)

// Sparse is a batched square sparse matrix: every grid cell holds a value
// for the same fixed set of non-zero (row, col) coordinates. The structural
// pattern is immutable after construction; only the values mutate.
//
// The pattern is stored CSR-style (rowStarts into colIndices). Values for
// all cells live in one flat slice; like Dense, the ordering is controlled
// by the group vector size, and a cell's value for pattern element e sits at
// CellBase(cell) + e*Stride().
type Sparse struct {
	n          int
	cells      int
	groupSize  int
	rowStarts  []int
	colIndices []int
	diagonal   []int // offset of (i,i) per row, -1 when structurally absent
	data       []float64
}

// SparseBuilder accumulates the non-zero pattern for a Sparse matrix.
type SparseBuilder struct {
	n         int
	cells     int
	groupSize int
	elements  map[[2]int]struct{}
}

// NewSparseBuilder starts a pattern for an n×n matrix with a single cell and
// standard ordering.
func NewSparseBuilder(n int) *SparseBuilder {
	if n <= 0 {
		panic(fmt.Sprintf("matrix: invalid sparse dimension %d", n))
	}
	return &SparseBuilder{
		n:         n,
		cells:     1,
		groupSize: 1,
		elements:  make(map[[2]int]struct{}),
	}
}

// WithElement reserves a structural non-zero at (row, col). Reserving the
// same coordinate twice is allowed and has no further effect.
func (b *SparseBuilder) WithElement(row, col int) *SparseBuilder {
	if row < 0 || row >= b.n || col < 0 || col >= b.n {
		panic(fmt.Sprintf("matrix: element (%d,%d) outside %dx%d pattern", row, col, b.n, b.n))
	}
	b.elements[[2]int{row, col}] = struct{}{}
	return b
}

// NumberOfCells sets the batch size.
func (b *SparseBuilder) NumberOfCells(cells int) *SparseBuilder {
	if cells < 1 {
		panic(fmt.Sprintf("matrix: invalid cell count %d", cells))
	}
	b.cells = cells
	return b
}

// VectorOrdering selects the cell-interleaved ordering with the given group
// size.
func (b *SparseBuilder) VectorOrdering(groupSize int) *SparseBuilder {
	if groupSize < 1 {
		panic(fmt.Sprintf("matrix: invalid group vector size %d", groupSize))
	}
	b.groupSize = groupSize
	return b
}

// Build freezes the pattern and allocates zeroed values for every cell.
func (b *SparseBuilder) Build() *Sparse {
	coords := make([][2]int, 0, len(b.elements))
	for c := range b.elements {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i][0] != coords[j][0] {
			return coords[i][0] < coords[j][0]
		}
		return coords[i][1] < coords[j][1]
	})

	s := &Sparse{
		n:          b.n,
		cells:      b.cells,
		groupSize:  b.groupSize,
		rowStarts:  make([]int, b.n+1),
		colIndices: make([]int, len(coords)),
		diagonal:   make([]int, b.n),
	}
	for i := range s.diagonal {
		s.diagonal[i] = -1
	}
	for e, c := range coords {
		s.rowStarts[c[0]+1]++
		s.colIndices[e] = c[1]
		if c[0] == c[1] {
			s.diagonal[c[0]] = e
		}
	}
	for i := 0; i < b.n; i++ {
		s.rowStarts[i+1] += s.rowStarts[i]
	}
	groups := (b.cells + b.groupSize - 1) / b.groupSize
	s.data = make([]float64, groups*b.groupSize*len(coords))
	return s
}

// Dims returns the number of cells and the per-cell matrix dimension.
func (s *Sparse) Dims() (cells, n int) { return s.cells, s.n }

// NNZ returns the number of structural non-zeros per cell.
func (s *Sparse) NNZ() int { return len(s.colIndices) }

// GroupVectorSize returns the cell interleaving factor.
func (s *Sparse) GroupVectorSize() int { return s.groupSize }

// AsSlice exposes the flat value slice across all cells, padding included.
func (s *Sparse) AsSlice() []float64 { return s.data }

// CellBase returns the flat index of pattern element 0 for the given cell.
func (s *Sparse) CellBase(cell int) int {
	g := cell / s.groupSize
	return g*len(s.colIndices)*s.groupSize + cell%s.groupSize
}

// Stride returns the flat distance between consecutive pattern elements of
// one cell.
func (s *Sparse) Stride() int { return s.groupSize }

// NonZeroOffset returns the pattern element index of (row, col) and whether
// the coordinate is structurally present.
func (s *Sparse) NonZeroOffset(row, col int) (int, bool) {
	lo, hi := s.rowStarts[row], s.rowStarts[row+1]
	// rows are short in reaction Jacobians; a linear scan beats binary
	// search bookkeeping here
	for e := lo; e < hi; e++ {
		if s.colIndices[e] == col {
			return e, true
		}
	}
	return 0, false
}

// DiagonalOffset returns the pattern element index of (row, row) and whether
// the diagonal entry is structurally present.
func (s *Sparse) DiagonalOffset(row int) (int, bool) {
	e := s.diagonal[row]
	return e, e >= 0
}

// DiagonalOffsets returns the pattern element index of every structurally
// present diagonal entry, in row order.
func (s *Sparse) DiagonalOffsets() []int {
	offsets := make([]int, 0, s.n)
	for _, e := range s.diagonal {
		if e >= 0 {
			offsets = append(offsets, e)
		}
	}
	return offsets
}

// RowElements returns the half-open pattern element range [lo, hi) of a row.
func (s *Sparse) RowElements(row int) (lo, hi int) {
	return s.rowStarts[row], s.rowStarts[row+1]
}

// ColIndex returns the column of pattern element e.
func (s *Sparse) ColIndex(e int) int { return s.colIndices[e] }

// At returns the value at (cell, row, col), or 0 for a structurally absent
// coordinate.
func (s *Sparse) At(cell, row, col int) float64 {
	if e, ok := s.NonZeroOffset(row, col); ok {
		return s.data[s.CellBase(cell)+e*s.groupSize]
	}
	return 0
}

// Set stores v at (cell, row, col). Writing a structurally absent coordinate
// is a programming error and panics.
func (s *Sparse) Set(cell, row, col int, v float64) {
	e, ok := s.NonZeroOffset(row, col)
	if !ok {
		panic(fmt.Sprintf("matrix: (%d,%d) is not in the sparse pattern", row, col))
	}
	s.data[s.CellBase(cell)+e*s.groupSize] = v
}

// Fill sets every stored value, padding included, to v.
func (s *Sparse) Fill(v float64) {
	for i := range s.data {
		s.data[i] = v
	}
}

// Pattern returns the structural non-zeros as a dense boolean grid.
func (s *Sparse) Pattern() [][]bool {
	p := make([][]bool, s.n)
	for i := range p {
		p[i] = make([]bool, s.n)
		for e := s.rowStarts[i]; e < s.rowStarts[i+1]; e++ {
			p[i][s.colIndices[e]] = true
		}
	}
	return p
}

// SamePattern reports whether o shares the batch shape, ordering, and
// structural pattern.
func (s *Sparse) SamePattern(o *Sparse) bool {
	if s.n != o.n || s.cells != o.cells || s.groupSize != o.groupSize || len(s.colIndices) != len(o.colIndices) {
		return false
	}
	for i, c := range s.colIndices {
		if o.colIndices[i] != c {
			return false
		}
	}
	for i, r := range s.rowStarts {
		if o.rowStarts[i] != r {
			return false
		}
	}
	return true
}

// Clone returns a matrix with the same pattern, shape, and contents.
func (s *Sparse) Clone() *Sparse {
	c := *s
	c.data = make([]float64, len(s.data))
	copy(c.data, s.data)
	return &c
}
