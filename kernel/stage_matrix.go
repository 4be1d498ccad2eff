package kernel

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/notargets/gocca"
)

// StageMatrix is a runtime-compiled routine that adds alpha to every
// diagonal non-zero of a batched sparse matrix, cell-vectorized. The
// diagonal offsets are baked into the kernel source as a straight-line
// sequence, so the hot path performs no pattern lookups.
//
// The generic negate step stays on the host; the compiled kernel performs
// only the diagonal update, matching it bit for bit.
type StageMatrix struct {
	device *gocca.OCCADevice
	kern   *gocca.OCCAKernel
	values *gocca.OCCAMemory

	groups    int
	groupSize int
	flatLen   int
}

// NewStageMatrix generates, compiles, and prepares the specialized routine
// for a matrix with the given batch layout and diagonal element offsets.
// Any failure is reported as ErrSpecializationFailed.
func NewStageMatrix(cells, groupSize, nnz int, diagonalOffsets []int) (*StageMatrix, error) {
	if cells < 1 || groupSize < 1 || nnz < 1 || len(diagonalOffsets) == 0 {
		return nil, fmt.Errorf("%w: empty batch or diagonal", ErrSpecializationFailed)
	}
	device, err := NewDevice()
	if err != nil {
		return nil, err
	}

	groups := (cells + groupSize - 1) / groupSize
	sm := &StageMatrix{
		device:    device,
		groups:    groups,
		groupSize: groupSize,
		flatLen:   groups * groupSize * nnz,
	}

	src := sm.generateSource(nnz, diagonalOffsets)
	kern, err := device.BuildKernelFromString(src, "addAlphaDiagonal", nil)
	if err != nil {
		device.Free()
		return nil, fmt.Errorf("%w: kernel build: %v", ErrSpecializationFailed, err)
	}
	sm.kern = kern
	sm.values = device.Malloc(int64(sm.flatLen*8), nil, nil)
	return sm, nil
}

// generateSource emits the OCCA kernel: one lane per cell within a group,
// one unrolled statement per diagonal offset.
func (sm *StageMatrix) generateSource(nnz int, diagonalOffsets []int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("#define NGROUPS %d\n", sm.groups))
	sb.WriteString(fmt.Sprintf("#define GROUP %d\n", sm.groupSize))
	sb.WriteString(fmt.Sprintf("#define NNZ %d\n\n", nnz))
	sb.WriteString("@kernel void addAlphaDiagonal(double *values, const double alpha) {\n")
	sb.WriteString("  for (int g = 0; g < NGROUPS; ++g; @outer) {\n")
	sb.WriteString("    for (int lane = 0; lane < GROUP; ++lane; @inner) {\n")
	sb.WriteString("      const int base = g * NNZ * GROUP + lane;\n")
	for _, d := range diagonalOffsets {
		sb.WriteString(fmt.Sprintf("      values[base + %d * GROUP] += alpha;\n", d))
	}
	sb.WriteString("    }\n")
	sb.WriteString("  }\n")
	sb.WriteString("}\n")
	return sb.String()
}

// AddAlphaDiagonal applies the compiled routine to the flat value slice of
// the stage matrix. values must have the length the kernel was built for.
func (sm *StageMatrix) AddAlphaDiagonal(values []float64, alpha float64) error {
	if len(values) != sm.flatLen {
		return fmt.Errorf("%w: value slice has length %d, kernel built for %d",
			ErrSpecializationFailed, len(values), sm.flatLen)
	}
	bytes := int64(len(values) * 8)
	sm.values.CopyFrom(unsafe.Pointer(&values[0]), bytes)
	if err := sm.kern.RunWithArgs(sm.values, alpha); err != nil {
		return fmt.Errorf("%w: kernel run: %v", ErrSpecializationFailed, err)
	}
	sm.device.Finish()
	sm.values.CopyTo(unsafe.Pointer(&values[0]), bytes)
	return nil
}

// Free releases the compiled kernel, its device memory, and the device.
func (sm *StageMatrix) Free() {
	if sm.kern != nil {
		sm.kern.Free()
	}
	if sm.values != nil {
		sm.values.Free()
	}
	if sm.device != nil {
		sm.device.Free()
	}
}
