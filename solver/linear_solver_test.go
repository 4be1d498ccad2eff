package solver

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openatmos/chemrock/matrix"
)

func TestLinearSolver_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	const n, cells = 9, 4

	for trial := 0; trial < 50; trial++ {
		pattern := randomPattern(n, 0.3, rng)
		a := sparseFromPattern(pattern, cells, 1)
		fillRandom(a, rng)

		ls := NewLinearSolver(a, 1.0e-30)
		if err := ls.Factor(a); err != nil {
			t.Fatalf("Factor failed: %v", err)
		}

		b := matrix.NewDense(cells, n)
		for cell := 0; cell < cells; cell++ {
			for j := 0; j < n; j++ {
				b.Set(cell, j, 2.0*rng.Float64()-1.0)
			}
		}
		x := matrix.NewDense(cells, n)
		ls.Solve(b, x)

		for cell := 0; cell < cells; cell++ {
			aDense := denseFromSparse(a, cell)
			xVec := mat.NewVecDense(n, nil)
			bVec := mat.NewVecDense(n, nil)
			for j := 0; j < n; j++ {
				xVec.SetVec(j, x.At(cell, j))
				bVec.SetVec(j, b.At(cell, j))
			}
			var res mat.VecDense
			res.MulVec(aDense, xVec)
			res.SubVec(&res, bVec)
			if rel := mat.Norm(&res, 2) / mat.Norm(bVec, 2); rel > 1.0e-10 {
				t.Fatalf("trial %d cell %d: |A*x - b|/|b| = %g", trial, cell, rel)
			}
		}
	}
}

func TestLinearSolver_ThreeByThreeCorners(t *testing.T) {
	// diagonal pattern plus the (0,2) and (2,0) corners
	a := matrix.NewSparseBuilder(3).
		WithElement(0, 0).WithElement(1, 1).WithElement(2, 2).
		WithElement(0, 2).WithElement(2, 0).
		Build()
	a.Set(0, 0, 0, 2)
	a.Set(0, 0, 2, 1)
	a.Set(0, 1, 1, 3)
	a.Set(0, 2, 0, 1)
	a.Set(0, 2, 2, 4)

	ls := NewLinearSolver(a, 1.0e-30)
	if err := ls.Factor(a); err != nil {
		t.Fatalf("Factor failed: %v", err)
	}

	b := matrix.NewDense(1, 3)
	b.Fill(1)
	x := matrix.NewDense(1, 3)
	ls.Solve(b, x)

	// residual in the infinity norm
	maxRes := 0.0
	for i := 0; i < 3; i++ {
		r := -1.0
		for j := 0; j < 3; j++ {
			r += a.At(0, i, j) * x.At(0, j)
		}
		maxRes = math.Max(maxRes, math.Abs(r))
	}
	if maxRes > 1.0e-12 {
		t.Errorf("|A*x - b|_inf = %g", maxRes)
	}
}

func TestLinearSolver_InPlaceSolve(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pattern := randomPattern(6, 0.4, rng)
	a := sparseFromPattern(pattern, 2, 1)
	fillRandom(a, rng)
	ls := NewLinearSolver(a, 1.0e-30)
	if err := ls.Factor(a); err != nil {
		t.Fatalf("Factor failed: %v", err)
	}

	b := matrix.NewDense(2, 6)
	for cell := 0; cell < 2; cell++ {
		for j := 0; j < 6; j++ {
			b.Set(cell, j, rng.Float64())
		}
	}
	separate := matrix.NewDense(2, 6)
	ls.Solve(b, separate)
	inPlace := b.Clone()
	ls.Solve(inPlace, inPlace)
	for cell := 0; cell < 2; cell++ {
		for j := 0; j < 6; j++ {
			if separate.At(cell, j) != inPlace.At(cell, j) {
				t.Fatalf("In-place solve diverges at (%d,%d)", cell, j)
			}
		}
	}
}

func TestLinearSolver_VectorOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n, cells, group = 7, 5, 3
	pattern := randomPattern(n, 0.3, rng)
	a := sparseFromPattern(pattern, cells, group)
	fillRandom(a, rng)

	ls := NewLinearSolver(a, 1.0e-30)
	if err := ls.Factor(a); err != nil {
		t.Fatalf("Factor failed: %v", err)
	}

	b := matrix.NewVectorDense(cells, n, group)
	for cell := 0; cell < cells; cell++ {
		for j := 0; j < n; j++ {
			b.Set(cell, j, rng.Float64()+0.1)
		}
	}
	x := matrix.NewVectorDense(cells, n, group)
	ls.Solve(b, x)

	for cell := 0; cell < cells; cell++ {
		for i := 0; i < n; i++ {
			r := -b.At(cell, i)
			for j := 0; j < n; j++ {
				r += a.At(cell, i, j) * x.At(cell, j)
			}
			if math.Abs(r) > 1.0e-10 {
				t.Fatalf("cell %d row %d: residual %g", cell, i, r)
			}
		}
	}
}
