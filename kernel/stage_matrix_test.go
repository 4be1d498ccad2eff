package kernel

import (
	"math"
	"strings"
	"testing"
)

func TestStageMatrix_GenerateSource(t *testing.T) {
	sm := &StageMatrix{groups: 3, groupSize: 4, flatLen: 3 * 4 * 5}
	src := sm.generateSource(5, []int{0, 2, 4})

	for _, want := range []string{
		"#define NGROUPS 3",
		"#define GROUP 4",
		"#define NNZ 5",
		"@kernel void addAlphaDiagonal",
		"values[base + 0 * GROUP] += alpha;",
		"values[base + 2 * GROUP] += alpha;",
		"values[base + 4 * GROUP] += alpha;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("Generated source missing %q:\n%s", want, src)
		}
	}
	if n := strings.Count(src, "+= alpha"); n != 3 {
		t.Errorf("Expected 3 unrolled diagonal updates, got %d", n)
	}
}

func TestStageMatrix_AddAlphaDiagonal(t *testing.T) {
	if _, err := NewDevice(); err != nil {
		t.Skipf("No OCCA backend available: %v", err)
	}

	const cells, groupSize, nnz = 5, 2, 4
	diag := []int{0, 3}
	sm, err := NewStageMatrix(cells, groupSize, nnz, diag)
	if err != nil {
		t.Skipf("Specialization unavailable: %v", err)
	}
	defer sm.Free()

	groups := (cells + groupSize - 1) / groupSize
	values := make([]float64, groups*groupSize*nnz)
	for i := range values {
		values[i] = float64(i)
	}
	expected := make([]float64, len(values))
	copy(expected, values)
	const alpha = 2.5
	for g := 0; g < groups; g++ {
		for lane := 0; lane < groupSize; lane++ {
			base := g*nnz*groupSize + lane
			for _, d := range diag {
				expected[base+d*groupSize] += alpha
			}
		}
	}

	if err := sm.AddAlphaDiagonal(values, alpha); err != nil {
		t.Fatalf("AddAlphaDiagonal: %v", err)
	}
	for i := range values {
		if math.Abs(values[i]-expected[i]) > 1e-15 {
			t.Errorf("values[%d] = %g, want %g", i, values[i], expected[i])
		}
	}
}

func TestStageMatrix_RejectsEmptyDiagonal(t *testing.T) {
	if _, err := NewStageMatrix(1, 1, 1, nil); err == nil {
		t.Error("Expected an error for an empty diagonal")
	}
}

func TestStageMatrix_WrongLength(t *testing.T) {
	if _, err := NewDevice(); err != nil {
		t.Skipf("No OCCA backend available: %v", err)
	}
	sm, err := NewStageMatrix(2, 1, 3, []int{0, 1, 2})
	if err != nil {
		t.Skipf("Specialization unavailable: %v", err)
	}
	defer sm.Free()
	if err := sm.AddAlphaDiagonal(make([]float64, 5), 1.0); err == nil {
		t.Error("Expected an error for a mis-sized value slice")
	}
}
