// Package matrix provides the batched dense and sparse containers used by
// the chemistry solver. A container holds one value set per grid cell; all
// cells share a single flat backing slice so that per-cell kernels can walk
// the batch with a base offset and a constant stride, independent of the
// storage ordering.
package matrix

import "fmt"

// Dense is a batched rows×cols matrix: one row vector per grid cell.
//
// Two storage orderings are supported through the group vector size L:
// the standard ordering (L == 1) stores each cell contiguously,
// data[cell*cols + col], while the vectorized ordering interleaves groups of
// L cells, data[(cell/L)*cols*L + col*L + cell%L]. Both are affine in the
// column index, so hot loops address values as CellBase(cell) + col*Stride()
// without branching on the policy.
type Dense struct {
	rows, cols int
	groupSize  int
	data       []float64
}

// NewDense creates a batched dense matrix in the standard cell-major
// ordering.
func NewDense(rows, cols int) *Dense {
	return NewVectorDense(rows, cols, 1)
}

// NewVectorDense creates a batched dense matrix whose cells are interleaved
// in groups of groupSize.
func NewVectorDense(rows, cols, groupSize int) *Dense {
	if rows < 0 || cols <= 0 {
		panic(fmt.Sprintf("matrix: invalid dense dimensions %dx%d", rows, cols))
	}
	if groupSize < 1 {
		panic(fmt.Sprintf("matrix: invalid group vector size %d", groupSize))
	}
	groups := (rows + groupSize - 1) / groupSize
	return &Dense{
		rows:      rows,
		cols:      cols,
		groupSize: groupSize,
		data:      make([]float64, groups*groupSize*cols),
	}
}

// Dims returns the number of cells and the row length.
func (m *Dense) Dims() (rows, cols int) { return m.rows, m.cols }

// GroupVectorSize returns the cell interleaving factor (1 for the standard
// ordering).
func (m *Dense) GroupVectorSize() int { return m.groupSize }

// AsSlice exposes the flat backing slice, including any padding cells in the
// final group.
func (m *Dense) AsSlice() []float64 { return m.data }

// CellBase returns the flat index of (cell, 0).
func (m *Dense) CellBase(cell int) int {
	g := cell / m.groupSize
	return g*m.cols*m.groupSize + cell%m.groupSize
}

// Stride returns the flat distance between consecutive columns of one cell.
func (m *Dense) Stride() int { return m.groupSize }

// At returns the value at (cell, col).
func (m *Dense) At(cell, col int) float64 {
	return m.data[m.CellBase(cell)+col*m.groupSize]
}

// Set stores v at (cell, col).
func (m *Dense) Set(cell, col int, v float64) {
	m.data[m.CellBase(cell)+col*m.groupSize] = v
}

// SameShape reports whether o has identical dimensions and ordering.
func (m *Dense) SameShape(o *Dense) bool {
	return m.rows == o.rows && m.cols == o.cols && m.groupSize == o.groupSize
}

// Fill sets every value, padding included, to v.
func (m *Dense) Fill(v float64) {
	for i := range m.data {
		m.data[i] = v
	}
}

// Copy overwrites m with the contents of src. The shapes must match.
func (m *Dense) Copy(src *Dense) {
	if !m.SameShape(src) {
		panic("matrix: Copy shape mismatch")
	}
	copy(m.data, src.data)
}

// Axpy adds alpha*x to m element-wise. The shapes must match.
func (m *Dense) Axpy(alpha float64, x *Dense) {
	if !m.SameShape(x) {
		panic("matrix: Axpy shape mismatch")
	}
	xd := x.data
	for i, v := range xd {
		m.data[i] += alpha * v
	}
}

// Clone returns a matrix with the same shape, ordering, and contents.
func (m *Dense) Clone() *Dense {
	c := NewVectorDense(m.rows, m.cols, m.groupSize)
	copy(c.data, m.data)
	return c
}
