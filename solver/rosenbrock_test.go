package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/openatmos/chemrock/matrix"
	"github.com/openatmos/chemrock/process"
	"github.com/openatmos/chemrock/system"
)

const boltzmann = 1.380649e-23 // [J K-1]

var chapmanSpecies = []string{"M", "Ar", "CO2", "H2O", "N2", "O1D", "O", "O2", "O3"}

func chapmanSystem() system.System {
	return system.System{GasPhase: system.NewPhase(chapmanSpecies...)}
}

func chapmanProcesses() []process.Process {
	return []process.Process{
		{Reactants: []string{"O2"}, Products: []process.Yield{{Name: "O", Coefficient: 2}},
			RateConstant: process.NewPhotolysis()},
		{Reactants: []string{"O3"}, Products: []process.Yield{process.Product("O1D"), process.Product("O2")},
			RateConstant: process.NewPhotolysis()},
		{Reactants: []string{"O3"}, Products: []process.Yield{process.Product("O"), process.Product("O2")},
			RateConstant: process.NewPhotolysis()},
		{Reactants: []string{"O1D", "N2"}, Products: []process.Yield{process.Product("O"), process.Product("N2")},
			RateConstant: process.NewArrhenius(process.ArrheniusParameters{A: 2.15e-11, C: 110})},
		{Reactants: []string{"O1D", "O2"}, Products: []process.Yield{process.Product("O"), process.Product("O2")},
			RateConstant: process.NewArrhenius(process.ArrheniusParameters{A: 3.3e-11, C: 55})},
		{Reactants: []string{"O", "O3"}, Products: []process.Yield{{Name: "O2", Coefficient: 2}},
			RateConstant: process.NewArrhenius(process.ArrheniusParameters{A: 8e-12, C: -2060})},
		{Reactants: []string{"M", "O", "O2"}, Products: []process.Yield{process.Product("O3"), process.Product("M")},
			RateConstant: process.NewArrhenius(process.ArrheniusParameters{A: 6e-34, B: -2.4})},
	}
}

// chapmanReferenceRateConstants evaluates each rate constant directly from
// its formula.
func chapmanReferenceRateConstants(c system.Conditions, photo []float64) []float64 {
	T := c.Temperature
	return []float64{
		photo[0],
		photo[1],
		photo[2],
		2.15e-11 * math.Exp(110/T),
		3.3e-11 * math.Exp(55/T),
		8e-12 * math.Exp(-2060/T),
		6e-34 * math.Pow(T/300.0, -2.4),
	}
}

// airNumberDensity converts conditions to a number density [molecule cm-3].
func airNumberDensity(T, P float64) float64 {
	return P / (boltzmann * T) * 1.0e-6
}

func newChapmanSolver(t *testing.T, p Parameters) *RosenbrockSolver {
	t.Helper()
	s, err := NewRosenbrockSolver(chapmanSystem(), chapmanProcesses(), p)
	if err != nil {
		t.Fatalf("Failed to build Chapman solver: %v", err)
	}
	return s
}

func setChapmanConditions(state *State, cell int, T, P float64, photo []float64) {
	rho := airNumberDensity(T, P)
	state.Conditions[cell] = system.Conditions{
		Temperature: T,
		Pressure:    P,
		AirDensity:  rho,
	}
	copy(state.CustomRateParameters[cell], photo)
	state.Variables.Set(cell, state.VariableMap["M"], rho)
	state.Variables.Set(cell, state.VariableMap["O2"], 0.21*rho)
	state.Variables.Set(cell, state.VariableMap["N2"], 0.79*rho)
	state.Variables.Set(cell, state.VariableMap["O3"], 1.0e-8*rho)
}

func TestSolve_ChapmanSingleCell(t *testing.T) {
	s := newChapmanSolver(t, ThreeStageRosenbrockParameters())
	state := s.GetState()
	photo := []float64{1.0e-4, 1.0e-5, 1.0e-6}
	setChapmanConditions(state, 0, 284.19, 101245.0, photo)
	if err := s.UpdateState(state); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	// rate constants match the per-formula reference
	want := chapmanReferenceRateConstants(state.Conditions[0], photo)
	for j, w := range want {
		got := state.RateConstants.At(0, j)
		tol := (math.Abs(got)+math.Abs(w))*1.0e-8 + 1.0e-12
		if math.Abs(got-w) > tol {
			t.Errorf("rate constant %d: got %g, want %g", j, got, w)
		}
	}

	// ozone builds up monotonically over the minute
	prevO3, _ := state.Concentration(0, "O3")
	tNow := 0.0
	for chunk := 0; chunk < 6; chunk++ {
		res, err := s.Solve(context.Background(), state, tNow, tNow+10.0)
		if err != nil {
			t.Fatalf("Solve chunk %d: %v", chunk, err)
		}
		if res.Status != Done {
			t.Fatalf("Solve chunk %d status %v", chunk, res.Status)
		}
		tNow += 10.0

		o3, _ := state.Concentration(0, "O3")
		if o3 < prevO3*(1-1e-12) {
			t.Errorf("O3 decreased from %g to %g at t=%g", prevO3, o3, tNow)
		}
		prevO3 = o3

		// positivity clamp holds everywhere
		for _, name := range state.VariableNames() {
			if c, _ := state.Concentration(0, name); c < 0 {
				t.Errorf("Negative concentration %g for %s at t=%g", c, name, tNow)
			}
		}
	}
}

func TestSolve_ChapmanBatchedRateConstants(t *testing.T) {
	conditions := []struct{ T, P float64 }{
		{284.19, 101245.0},
		{215.02, 100789.2},
		{299.31, 101398.0},
	}
	photo := []float64{1.0e-4, 1.0e-5, 1.0e-6}

	pBatch := ThreeStageRosenbrockParameters()
	pBatch.Cells = 3
	batch := newChapmanSolver(t, pBatch)
	batchState := batch.GetState()
	for cell, c := range conditions {
		setChapmanConditions(batchState, cell, c.T, c.P, photo)
	}
	if err := batch.UpdateState(batchState); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	single := newChapmanSolver(t, ThreeStageRosenbrockParameters())
	singleState := single.GetState()
	for cell, c := range conditions {
		setChapmanConditions(singleState, 0, c.T, c.P, photo)
		if err := single.UpdateState(singleState); err != nil {
			t.Fatalf("UpdateState: %v", err)
		}
		for j := 0; j < 7; j++ {
			if batchState.RateConstants.At(cell, j) != singleState.RateConstants.At(0, j) {
				t.Errorf("cell %d rate constant %d: batched %g, single %g", cell, j,
					batchState.RateConstants.At(cell, j), singleState.RateConstants.At(0, j))
			}
		}
	}
}

func twoSpeciesSolver(t *testing.T, p Parameters) *RosenbrockSolver {
	t.Helper()
	p.ReorderState = false
	sys := system.System{GasPhase: system.NewPhase("A", "B")}
	procs := []process.Process{
		{Reactants: []string{"A", "B"}, Products: []process.Yield{process.Product("A")},
			RateConstant: process.NewUserDefined()},
	}
	s, err := NewRosenbrockSolver(sys, procs, p)
	if err != nil {
		t.Fatalf("Failed to build solver: %v", err)
	}
	return s
}

func TestAlphaMinusJacobian_TwoByTwo(t *testing.T) {
	s := twoSpeciesSolver(t, ThreeStageRosenbrockParameters())
	jac := s.JacobianTemplate()
	jac.Set(0, 0, 0, 0.5)
	jac.Set(0, 0, 1, -0.25)
	jac.Set(0, 1, 0, 1.0)
	jac.Set(0, 1, 1, 0.75)

	if err := s.AlphaMinusJacobian(jac, 2.0); err != nil {
		t.Fatalf("AlphaMinusJacobian: %v", err)
	}
	want := [2][2]float64{{1.5, 0.25}, {-1.0, 1.25}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := jac.At(0, i, j); math.Abs(got-want[i][j]) > 1e-15 {
				t.Errorf("H[%d][%d] = %g, want %g", i, j, got, want[i][j])
			}
		}
	}
}

func TestAlphaMinusJacobian_PreservesSparsity(t *testing.T) {
	s := newChapmanSolver(t, ThreeStageRosenbrockParameters())
	jac := s.JacobianTemplate()
	rng := rand.New(rand.NewSource(31))
	_, n := jac.Dims()
	values := make(map[[2]int]float64)
	for i := 0; i < n; i++ {
		lo, hi := jac.RowElements(i)
		for e := lo; e < hi; e++ {
			j := jac.ColIndex(e)
			v := rng.NormFloat64()
			jac.Set(0, i, j, v)
			values[[2]int{i, j}] = v
		}
	}

	const alpha = 3.25
	if err := s.AlphaMinusJacobian(jac, alpha); err != nil {
		t.Fatalf("AlphaMinusJacobian: %v", err)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			got := jac.At(0, i, j)
			v, inPattern := values[[2]int{i, j}]
			switch {
			case !inPattern:
				if got != 0 {
					t.Errorf("Off-pattern entry (%d,%d) became %g", i, j, got)
				}
			case i == j:
				if math.Abs(got-(alpha-v)) > 1e-14 {
					t.Errorf("H[%d][%d] = %g, want %g", i, j, got, alpha-v)
				}
			default:
				if got != -v {
					t.Errorf("H[%d][%d] = %g, want %g", i, j, got, -v)
				}
			}
		}
	}

	// the pattern itself is untouched
	if !jac.SamePattern(s.JacobianTemplate()) {
		t.Error("Stage-matrix formation changed the sparsity pattern")
	}
}

func decaySolver(t *testing.T, p Parameters) *RosenbrockSolver {
	t.Helper()
	sys := system.System{GasPhase: system.NewPhase("A", "B")}
	procs := []process.Process{
		{Reactants: []string{"A"}, Products: []process.Yield{process.Product("B")},
			RateConstant: process.NewUserDefined()},
	}
	s, err := NewRosenbrockSolver(sys, procs, p)
	if err != nil {
		t.Fatalf("Failed to build solver: %v", err)
	}
	return s
}

func runDecay(t *testing.T, s *RosenbrockSolver, k, tEnd float64) (*State, Result, error) {
	t.Helper()
	state := s.GetState()
	state.CustomRateParameters[0][0] = k
	state.SetConcentration("A", []float64{1.0})
	if err := s.UpdateState(state); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	res, err := s.Solve(context.Background(), state, 0, tEnd)
	return state, res, err
}

func TestSolve_OrderOfAccuracy(t *testing.T) {
	// first-order decay with a known solution: tightening the relative
	// tolerance must tighten the global error accordingly
	exact := math.Exp(-0.5 * 10.0)
	relErr := func(rtol float64) float64 {
		p := ThreeStageRosenbrockParameters()
		p.AbsoluteTolerance = []float64{1.0e-14}
		p.RelativeTolerance = rtol
		s := decaySolver(t, p)
		state, res, err := runDecay(t, s, 0.5, 10.0)
		if err != nil {
			t.Fatalf("Solve at rtol %g: %v", rtol, err)
		}
		if res.Status != Done {
			t.Fatalf("Status %v at rtol %g", res.Status, rtol)
		}
		a, _ := state.Concentration(0, "A")
		return math.Abs(a-exact) / exact
	}

	loose := relErr(1.0e-2)
	tight := relErr(1.0e-6)
	if tight >= loose {
		t.Errorf("Error did not shrink with the tolerance: %g -> %g", loose, tight)
	}
	if loose/tight < 10 {
		t.Errorf("Expected at least a 10x error reduction for a 1e4 tolerance drop, got %g/%g", loose, tight)
	}
	if loose > 0.1 {
		t.Errorf("Loose-tolerance error is unreasonably large: %g", loose)
	}
}

func TestSolve_StiffStepRejection(t *testing.T) {
	// a large initial step on a fast decay must be rejected at least once
	p := ThreeStageRosenbrockParameters()
	p.AbsoluteTolerance = []float64{1.0e-12}
	p.RelativeTolerance = 1.0e-6
	p.Hstart = 1.0
	p.MaxRejections = 20 // the oversized first step may shrink several times
	s := decaySolver(t, p)
	_, res, err := runDecay(t, s, 50.0, 1.0)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Done {
		t.Fatalf("Status %v", res.Status)
	}
	if res.Rejected < 1 {
		t.Errorf("Expected at least one rejected step, got %d", res.Rejected)
	}
	if res.Accepted < 1 {
		t.Errorf("Expected accepted steps, got %d", res.Accepted)
	}
}

func TestStepFactor_RejectionFormula(t *testing.T) {
	p := ThreeStageRosenbrockParameters()
	s := decaySolver(t, p)
	for _, errNorm := range []float64{1.5, 4.0, 100.0, 1e6} {
		got := s.stepFactor(errNorm, true)
		want := math.Min(p.FactorReject,
			math.Max(p.FactorMin, p.SafetyFactor*math.Pow(errNorm, -1.0/p.EstimatorOfLocalOrder)))
		if got != want {
			t.Errorf("stepFactor(%g, reject) = %g, want %g", errNorm, got, want)
		}
	}
	// acceptance path uses the growth cap
	if got := s.stepFactor(1e-8, false); got != p.FactorMax {
		t.Errorf("Expected growth capped at %g, got %g", p.FactorMax, got)
	}
}

func TestSolve_RejectionNeverAdvancesState(t *testing.T) {
	// an unsatisfiable tolerance burns the rejection budget without ever
	// touching t or y
	p := ThreeStageRosenbrockParameters()
	p.AbsoluteTolerance = []float64{1.0e-30}
	p.RelativeTolerance = 1.0e-14
	p.Hstart = 1.0
	p.MaxRejections = 5
	s := decaySolver(t, p)

	state := s.GetState()
	state.CustomRateParameters[0][0] = 50.0
	state.SetConcentration("A", []float64{1.0})
	if err := s.UpdateState(state); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	before := make([]float64, len(state.Variables.AsSlice()))
	copy(before, state.Variables.AsSlice())

	res, err := s.Solve(context.Background(), state, 0, 1.0)
	if !errors.Is(err, ErrStepSizeTooSmall) {
		t.Fatalf("Expected ErrStepSizeTooSmall, got %v", err)
	}
	if res.Status != Failed {
		t.Errorf("Status %v, want Failed", res.Status)
	}
	if res.TReached != 0 {
		t.Errorf("t advanced to %g across rejected steps", res.TReached)
	}
	after := state.Variables.AsSlice()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("State changed at flat index %d: %g -> %g", i, before[i], after[i])
		}
	}
}

func TestSolve_NonFiniteRateConstant(t *testing.T) {
	p := ThreeStageRosenbrockParameters()
	s := decaySolver(t, p)
	_, res, err := runDecay(t, s, math.NaN(), 1.0)
	if !errors.Is(err, ErrNonFiniteState) {
		t.Fatalf("Expected ErrNonFiniteState, got %v", err)
	}
	if res.Status != Failed {
		t.Errorf("Status %v, want Failed", res.Status)
	}
}

func TestSolve_MaxSteps(t *testing.T) {
	p := ThreeStageRosenbrockParameters()
	p.MaxSteps = 3
	p.Hmax = 1.0e-4 // force many small steps
	s := decaySolver(t, p)
	_, res, err := runDecay(t, s, 0.5, 10.0)
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("Expected ErrMaxStepsExceeded, got %v", err)
	}
	if res.Status != Failed {
		t.Errorf("Status %v, want Failed", res.Status)
	}
	if res.TReached <= 0 || res.TReached >= 10.0 {
		t.Errorf("Expected partial progress, reached t=%g", res.TReached)
	}
}

func TestSolve_ContextCancellation(t *testing.T) {
	s := decaySolver(t, ThreeStageRosenbrockParameters())
	state := s.GetState()
	state.CustomRateParameters[0][0] = 0.5
	state.SetConcentration("A", []float64{1.0})
	if err := s.UpdateState(state); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Solve(ctx, state, 0, 10.0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res.Status != Failed {
		t.Errorf("Status %v, want Failed", res.Status)
	}
}

func TestSolve_BatchedCellsAreIndependent(t *testing.T) {
	// two cells with different rate parameters each follow their own
	// analytic decay
	p := ThreeStageRosenbrockParameters()
	p.Cells = 2
	batch := decaySolver(t, p)
	state := batch.GetState()
	state.CustomRateParameters[0][0] = 0.5
	state.CustomRateParameters[1][0] = 2.0
	state.SetConcentration("A", []float64{1.0, 1.0})
	if err := batch.UpdateState(state); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if _, err := batch.Solve(context.Background(), state, 0, 2.0); err != nil {
		t.Fatalf("Solve: %v", err)
	}

	for cell, k := range []float64{0.5, 2.0} {
		exact := math.Exp(-k * 2.0)
		a, _ := state.Concentration(cell, "A")
		if math.Abs(a-exact)/exact > 1.0e-2 {
			t.Errorf("cell %d: A=%g, analytic %g", cell, a, exact)
		}
	}
}

func TestGetState_Shapes(t *testing.T) {
	p := ThreeStageRosenbrockParameters()
	p.Cells = 4
	p.GroupVectorSize = 2
	s := newChapmanSolver(t, p)
	state := s.GetState()

	rows, cols := state.Variables.Dims()
	if rows != 4 || cols != len(chapmanSpecies) {
		t.Errorf("Variables are %dx%d", rows, cols)
	}
	if state.Variables.GroupVectorSize() != 2 {
		t.Errorf("Variables group vector size %d", state.Variables.GroupVectorSize())
	}
	rcRows, rcCols := state.RateConstants.Dims()
	if rcRows != 4 || rcCols != 7 {
		t.Errorf("RateConstants are %dx%d", rcRows, rcCols)
	}
	if len(state.Conditions) != 4 {
		t.Errorf("%d condition entries", len(state.Conditions))
	}
	for _, params := range state.CustomRateParameters {
		if len(params) != 3 {
			t.Errorf("Expected 3 custom rate parameters, got %d", len(params))
		}
	}
	if len(state.VariableMap) != len(chapmanSpecies) {
		t.Errorf("Variable map has %d entries", len(state.VariableMap))
	}
}

func TestSolve_ShapeMismatch(t *testing.T) {
	s := newChapmanSolver(t, ThreeStageRosenbrockParameters())
	state := s.GetState()
	state.Variables = matrix.NewDense(2, len(chapmanSpecies))
	if _, err := s.Solve(context.Background(), state, 0, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if err := s.UpdateState(state); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch from UpdateState, got %v", err)
	}
}

func TestSolve_VectorOrderingMatchesStandard(t *testing.T) {
	run := func(groupSize int) []float64 {
		p := ThreeStageRosenbrockParameters()
		p.Cells = 3
		p.GroupVectorSize = groupSize
		s := newChapmanSolver(t, p)
		state := s.GetState()
		photo := []float64{1.0e-4, 1.0e-5, 1.0e-6}
		setChapmanConditions(state, 0, 284.19, 101245.0, photo)
		setChapmanConditions(state, 1, 215.02, 100789.2, photo)
		setChapmanConditions(state, 2, 299.31, 101398.0, photo)
		if err := s.UpdateState(state); err != nil {
			t.Fatalf("UpdateState: %v", err)
		}
		if _, err := s.Solve(context.Background(), state, 0, 10.0); err != nil {
			t.Fatalf("Solve: %v", err)
		}
		out := make([]float64, 0, 3*len(chapmanSpecies))
		for cell := 0; cell < 3; cell++ {
			for _, name := range state.VariableNames() {
				c, _ := state.Concentration(cell, name)
				out = append(out, c)
			}
		}
		return out
	}

	std := run(1)
	vec := run(2)
	for i := range std {
		denom := math.Max(math.Abs(std[i]), 1e-30)
		if math.Abs(std[i]-vec[i])/denom > 1.0e-10 {
			t.Fatalf("Orderings diverge at %d: %g vs %g", i, std[i], vec[i])
		}
	}
}
