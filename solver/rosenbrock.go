// Package solver implements a batched Rosenbrock W-method integrator for
// stiff chemical kinetics: the time-step controller, the stage recurrence,
// sparse Jacobian handling, and an LU factorization specialized to the
// reaction network's fixed sparsity pattern.
package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/openatmos/chemrock/kernel"
	"github.com/openatmos/chemrock/matrix"
	"github.com/openatmos/chemrock/process"
	"github.com/openatmos/chemrock/system"
)

// ErrShapeMismatch mirrors the assembler sentinel so callers can test
// either package's errors uniformly.
var ErrShapeMismatch = process.ErrShapeMismatch

// Status is the stepper state machine.
type Status int

const (
	Running Status = iota
	StepRejected
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case StepRejected:
		return "step rejected"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result reports how a Solve call went.
type Result struct {
	TReached       float64
	Steps          int // attempted steps
	Accepted       int
	Rejected       int
	FunctionCalls  int
	JacobianCalls  int
	Factorizations int
	Solves         int
	FinalH         float64
	Status         Status
}

// RosenbrockSolver advances the concentrations of a reacting system through
// time. Construction fixes the species ordering, the Jacobian sparsity, the
// symbolic LU schedule, and all scratch buffers; Solve calls reuse them and
// never allocate.
//
// A solver must not be shared across goroutines without external
// synchronization. The topology and symbolic structure are immutable after
// construction.
type RosenbrockSolver struct {
	parameters Parameters
	processes  []process.Process
	set        *process.Set

	variableNames []string
	variableMap   map[string]int
	customCount   int
	absTol        []float64

	jacobian        *matrix.Sparse // J workspace
	stageMatrix     *matrix.Sparse // H = alpha*I - J workspace
	linear          *LinearSolver
	diagonalOffsets []int

	k       []*matrix.Dense
	ynew    *matrix.Dense
	forcing *matrix.Dense
	rhs     *matrix.Dense
	yerr    *matrix.Dense

	specialized       *kernel.StageMatrix
	specializationErr error
}

// NewRosenbrockSolver builds a solver for the given system, processes, and
// parameters.
func NewRosenbrockSolver(sys system.System, processes []process.Process, p Parameters) (*RosenbrockSolver, error) {
	if err := validateParameters(&p); err != nil {
		return nil, err
	}

	names := sys.UniqueNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: system has no species", ErrShapeMismatch)
	}
	p.AbsoluteTolerance = broadcastTolerance(p.AbsoluteTolerance, len(names))
	vmap := indexMap(names)
	set, err := process.NewSet(processes, vmap)
	if err != nil {
		return nil, err
	}

	if p.ReorderState {
		pattern := jacobianPattern(set, len(names))
		perm := DiagonalMarkowitzReorder(pattern)
		reordered := make([]string, len(names))
		absTol := make([]float64, len(names))
		for i, orig := range perm {
			reordered[i] = names[orig]
			absTol[i] = p.AbsoluteTolerance[orig]
		}
		names = reordered
		p.AbsoluteTolerance = absTol
		vmap = indexMap(names)
		if set, err = process.NewSet(processes, vmap); err != nil {
			return nil, err
		}
	}

	n := len(names)
	b := matrix.NewSparseBuilder(n).
		NumberOfCells(p.Cells).
		VectorOrdering(p.GroupVectorSize)
	for _, e := range set.NonZeroJacobianElements() {
		b.WithElement(e[0], e[1])
	}
	for i := 0; i < n; i++ {
		b.WithElement(i, i)
	}
	jac := b.Build()
	set.SetJacobianFlatIDs(jac)

	s := &RosenbrockSolver{
		parameters:      p,
		processes:       processes,
		set:             set,
		variableNames:   names,
		variableMap:     vmap,
		customCount:     customParameterCount(processes),
		absTol:          p.AbsoluteTolerance,
		jacobian:        jac,
		stageMatrix:     jac.Clone(),
		linear:          NewLinearSolver(jac, p.PivotThreshold),
		diagonalOffsets: jac.DiagonalOffsets(),
		k:               make([]*matrix.Dense, p.Stages),
		ynew:            matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize),
		forcing:         matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize),
		rhs:             matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize),
		yerr:            matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize),
	}
	for i := range s.k {
		s.k[i] = matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize)
	}

	if p.Specialize {
		sm, err := kernel.NewStageMatrix(p.Cells, p.GroupVectorSize, jac.NNZ(), s.diagonalOffsets)
		if err != nil {
			s.specializationErr = err
		} else {
			s.specialized = sm
		}
	}
	return s, nil
}

func validateParameters(p *Parameters) error {
	if p.Stages < 2 {
		return fmt.Errorf("solver: %d stages unsupported", p.Stages)
	}
	nLower := p.Stages * (p.Stages - 1) / 2
	if len(p.A) != nLower || len(p.C) != nLower {
		return fmt.Errorf("solver: stage coefficient lengths %d/%d, want %d", len(p.A), len(p.C), nLower)
	}
	if len(p.M) != p.Stages || len(p.E) != p.Stages || len(p.Gamma) != p.Stages {
		return fmt.Errorf("solver: tableau vector lengths do not match %d stages", p.Stages)
	}
	if p.Cells < 1 {
		return fmt.Errorf("solver: invalid cell count %d", p.Cells)
	}
	if p.GroupVectorSize < 1 {
		return fmt.Errorf("solver: invalid group vector size %d", p.GroupVectorSize)
	}
	if len(p.AbsoluteTolerance) == 0 || p.RelativeTolerance <= 0 {
		return fmt.Errorf("solver: tolerances not set")
	}
	return nil
}

func indexMap(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func jacobianPattern(set *process.Set, n int) [][]bool {
	pat := make([][]bool, n)
	for i := range pat {
		pat[i] = make([]bool, n)
		pat[i][i] = true
	}
	for _, e := range set.NonZeroJacobianElements() {
		pat[e[0]][e[1]] = true
	}
	return pat
}

func customParameterCount(processes []process.Process) int {
	n := 0
	for _, p := range processes {
		n += p.RateConstant.CustomParameterCount()
	}
	return n
}

// broadcastTolerance expands a scalar absolute tolerance to all species.
func broadcastTolerance(atol []float64, n int) []float64 {
	if len(atol) == n {
		return atol
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = atol[0]
	}
	return out
}

// VariableNames returns the solver's species ordering after any reordering.
func (s *RosenbrockSolver) VariableNames() []string {
	names := make([]string, len(s.variableNames))
	copy(names, s.variableNames)
	return names
}

// SpecializationError reports why the runtime-specialized stage-matrix
// routine is unavailable, or nil when it is active or was not requested.
func (s *RosenbrockSolver) SpecializationError() error { return s.specializationErr }

// Free releases any runtime-compiled kernel resources. The solver remains
// usable on the generic path afterwards.
func (s *RosenbrockSolver) Free() {
	if s.specialized != nil {
		s.specialized.Free()
		s.specialized = nil
	}
}

// GetState allocates a State with containers shaped for this solver.
func (s *RosenbrockSolver) GetState() *State {
	p := s.parameters
	n := len(s.variableNames)
	st := &State{
		Variables:            matrix.NewVectorDense(p.Cells, n, p.GroupVectorSize),
		RateConstants:        matrix.NewVectorDense(p.Cells, len(s.processes), p.GroupVectorSize),
		Conditions:           make([]system.Conditions, p.Cells),
		CustomRateParameters: make([][]float64, p.Cells),
		VariableMap:          s.variableMap,
		variableNames:        s.variableNames,
	}
	for i := range st.CustomRateParameters {
		st.CustomRateParameters[i] = make([]float64, s.customCount)
	}
	return st
}

// UpdateState recomputes every cell's rate constants from its conditions
// and custom rate parameters.
func (s *RosenbrockSolver) UpdateState(state *State) error {
	if err := s.checkState(state); err != nil {
		return err
	}
	for cell := 0; cell < s.parameters.Cells; cell++ {
		params := state.CustomRateParameters[cell]
		idx := 0
		for i, p := range s.processes {
			count := p.RateConstant.CustomParameterCount()
			k := p.RateConstant.Calculate(state.Conditions[cell], params[idx:idx+count])
			state.RateConstants.Set(cell, i, k)
			idx += count
		}
	}
	return nil
}

func (s *RosenbrockSolver) checkState(state *State) error {
	cells, n := state.Variables.Dims()
	if cells != s.parameters.Cells || n != len(s.variableNames) {
		return fmt.Errorf("%w: variables are %dx%d, want %dx%d",
			ErrShapeMismatch, cells, n, s.parameters.Cells, len(s.variableNames))
	}
	if state.Variables.GroupVectorSize() != s.parameters.GroupVectorSize ||
		state.RateConstants.GroupVectorSize() != s.parameters.GroupVectorSize {
		return fmt.Errorf("%w: state storage ordering does not match the solver",
			ErrShapeMismatch)
	}
	rcCells, rcCols := state.RateConstants.Dims()
	if rcCells != s.parameters.Cells || rcCols != len(s.processes) {
		return fmt.Errorf("%w: rate constants are %dx%d, want %dx%d",
			ErrShapeMismatch, rcCells, rcCols, s.parameters.Cells, len(s.processes))
	}
	if len(state.Conditions) != s.parameters.Cells {
		return fmt.Errorf("%w: %d condition entries for %d cells",
			ErrShapeMismatch, len(state.Conditions), s.parameters.Cells)
	}
	for cell, p := range state.CustomRateParameters {
		if len(p) < s.customCount {
			return fmt.Errorf("%w: cell %d has %d custom rate parameters, want %d",
				ErrShapeMismatch, cell, len(p), s.customCount)
		}
	}
	return nil
}

// CalculateForcing writes f = dy/dt for every cell.
func (s *RosenbrockSolver) CalculateForcing(rateConstants, variables, forcing *matrix.Dense) error {
	forcing.Fill(0)
	return s.set.AddForcingTerms(rateConstants, variables, forcing)
}

// CalculateJacobian writes J = df/dy for every cell into the sparse
// container, which must share the solver's pattern.
func (s *RosenbrockSolver) CalculateJacobian(rateConstants, variables *matrix.Dense, jac *matrix.Sparse) error {
	if !jac.SamePattern(s.jacobian) {
		return fmt.Errorf("%w: jacobian pattern does not match solver topology", ErrShapeMismatch)
	}
	jac.Fill(0)
	return s.set.AddJacobianTerms(rateConstants, variables, jac)
}

// AlphaMinusJacobian forms H = alpha*I - J in place: every stored non-zero
// is negated, then alpha lands on each diagonal slot. The runtime-compiled
// routine handles the diagonal pass when available and falls back silently
// when it fails mid-run.
func (s *RosenbrockSolver) AlphaMinusJacobian(jac *matrix.Sparse, alpha float64) error {
	if !jac.SamePattern(s.jacobian) {
		return fmt.Errorf("%w: jacobian pattern does not match solver topology", ErrShapeMismatch)
	}
	v := jac.AsSlice()
	for i := range v {
		v[i] = -v[i]
	}
	if s.specialized != nil {
		if err := s.specialized.AddAlphaDiagonal(v, alpha); err == nil {
			return nil
		} else {
			s.specializationErr = err
			s.specialized.Free()
			s.specialized = nil
		}
	}
	cells, _ := jac.Dims()
	stride := jac.Stride()
	for cell := 0; cell < cells; cell++ {
		base := jac.CellBase(cell)
		for _, d := range s.diagonalOffsets {
			v[base+d*stride] += alpha
		}
	}
	return nil
}

// JacobianTemplate returns a zeroed sparse matrix sharing the solver's
// Jacobian pattern and batch layout.
func (s *RosenbrockSolver) JacobianTemplate() *matrix.Sparse {
	c := s.jacobian.Clone()
	c.Fill(0)
	return c
}

// Solve advances state.Variables from tStart to tEnd, adapting the step
// size. The context is consulted between steps only; an in-flight step
// always completes. On failure the state holds the last consistent (t, y)
// and the result records partial progress.
func (s *RosenbrockSolver) Solve(ctx context.Context, state *State, tStart, tEnd float64) (Result, error) {
	res := Result{Status: Running, TReached: tStart}
	if err := s.checkState(state); err != nil {
		res.Status = Failed
		return res, err
	}
	if tEnd <= tStart {
		res.Status = Done
		return res, nil
	}
	p := s.parameters
	y := state.Variables
	rc := state.RateConstants

	hmax := p.Hmax
	if hmax <= 0 || hmax > tEnd-tStart {
		hmax = tEnd - tStart
	}
	h := math.Min(math.Max(p.Hmin, p.Hstart), hmax)
	if h <= 0 {
		h = math.Min(1.0e-6, hmax)
	}

	t := tStart
	timeTol := 10 * machineEpsilon * math.Max(math.Abs(tEnd), 1)
	rejections := 0

	for tEnd-t > timeTol {
		if ctx != nil {
			select {
			case <-ctx.Done():
				res.TReached = t
				res.FinalH = h
				res.Status = Failed
				return res, ctx.Err()
			default:
			}
		}
		if res.Steps >= p.MaxSteps {
			res.TReached = t
			res.FinalH = h
			res.Status = Failed
			return res, fmt.Errorf("%w: %d steps taken, t=%g of %g", ErrMaxStepsExceeded, res.Steps, t, tEnd)
		}
		res.Steps++
		h = math.Min(h, tEnd-t)

		if err := s.CalculateForcing(rc, y, s.forcing); err != nil {
			res.Status = Failed
			return res, err
		}
		res.FunctionCalls++
		if err := s.CalculateJacobian(rc, y, s.jacobian); err != nil {
			res.Status = Failed
			return res, err
		}
		res.JacobianCalls++

		var err error
		h, err = s.factorStageMatrix(h, p.Hmin, &res)
		if err != nil {
			res.TReached = t
			res.FinalH = h
			res.Status = Failed
			return res, err
		}

		s.runStages(rc, y, h, &res)

		// candidate update and embedded error estimate
		s.ynew.Copy(y)
		s.yerr.Fill(0)
		for i := 0; i < p.Stages; i++ {
			s.ynew.Axpy(p.M[i], s.k[i])
			s.yerr.Axpy(p.E[i], s.k[i])
		}
		errNorm := s.normalizedError(y, s.ynew, s.yerr)

		if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
			// non-finite state: reject as hard as the controller allows
			res.Rejected++
			rejections++
			if h <= p.Hmin+timeTol || rejections > p.MaxRejections {
				res.TReached = t
				res.FinalH = h
				res.Status = Failed
				return res, fmt.Errorf("%w: at t=%g, h=%g", ErrNonFiniteState, t, h)
			}
			res.Status = StepRejected
			h = math.Max(p.Hmin, h*p.FactorMin)
			res.Status = Running
			continue
		}

		if errNorm <= 1 {
			// accept
			y.Copy(s.ynew)
			clampNegatives(y)
			t += h
			res.Accepted++
			rejections = 0
			h *= s.stepFactor(errNorm, false)
			h = math.Min(math.Max(h, p.Hmin), hmax)
		} else {
			// reject: do not advance, retry with a shorter step
			res.Rejected++
			rejections++
			if rejections > p.MaxRejections {
				res.TReached = t
				res.FinalH = h
				res.Status = Failed
				return res, fmt.Errorf("%w: %d consecutive rejections at t=%g", ErrStepSizeTooSmall, rejections, t)
			}
			res.Status = StepRejected
			hnew := h * s.stepFactor(errNorm, true)
			if hnew < p.Hmin {
				if h <= p.Hmin+timeTol {
					res.TReached = t
					res.FinalH = h
					res.Status = Failed
					return res, fmt.Errorf("%w: h=%g at floor %g", ErrStepSizeTooSmall, hnew, p.Hmin)
				}
				hnew = p.Hmin
			}
			h = hnew
			res.Status = Running
		}
	}

	res.TReached = t
	res.FinalH = h
	res.Status = Done
	return res, nil
}

const machineEpsilon = 2.220446049250313e-16

// factorStageMatrix forms and factors H = (1/(h*gamma))I - J, halving h on
// a singular pivot until the factorization succeeds or the floor is hit.
// It returns the h actually used.
func (s *RosenbrockSolver) factorStageMatrix(h, hmin float64, res *Result) (float64, error) {
	p := s.parameters
	for tries := 0; ; tries++ {
		alpha := 1.0 / (h * p.Gamma[0])
		copy(s.stageMatrix.AsSlice(), s.jacobian.AsSlice())
		if err := s.AlphaMinusJacobian(s.stageMatrix, alpha); err != nil {
			return h, err
		}
		res.Factorizations++
		err := s.linear.Factor(s.stageMatrix)
		if err == nil {
			return h, nil
		}
		if tries >= p.MaxRejections || h <= hmin {
			return h, err
		}
		// singular stage matrix: shrink the step and retry
		res.Rejected++
		h /= 2
		if h < hmin {
			h = hmin
		}
	}
}

// runStages executes the stage recurrence: for each stage, evaluate the
// forcing at the stage state, add the c/h combinations of earlier stage
// vectors, and solve with the shared factored stage matrix.
func (s *RosenbrockSolver) runStages(rc, y *matrix.Dense, h float64, res *Result) {
	p := s.parameters
	for st := 0; st < p.Stages; st++ {
		if st == 0 {
			s.rhs.Copy(s.forcing)
		} else {
			comb := st * (st - 1) / 2
			s.ynew.Copy(y)
			for j := 0; j < st; j++ {
				s.ynew.Axpy(p.A[comb+j], s.k[j])
			}
			s.rhs.Fill(0)
			s.set.AddForcingTerms(rc, s.ynew, s.rhs)
			res.FunctionCalls++
			for j := 0; j < st; j++ {
				s.rhs.Axpy(p.C[comb+j]/h, s.k[j])
			}
		}
		s.linear.Solve(s.rhs, s.k[st])
		res.Solves++
	}
}

// stepFactor is the step-size controller: safety * E^(-1/order), clamped
// between FactorMin and FactorMax on acceptance or FactorReject on
// rejection.
func (s *RosenbrockSolver) stepFactor(errNorm float64, rejected bool) float64 {
	p := s.parameters
	fac := p.SafetyFactor * math.Pow(errNorm, -1.0/p.EstimatorOfLocalOrder)
	limit := p.FactorMax
	if rejected {
		limit = p.FactorReject
	}
	return math.Min(limit, math.Max(p.FactorMin, fac))
}

// normalizedError computes the scalar error norm
//
//	sqrt( (1/N) * sum( (err_j / (atol_j + rtol*max(|y_j|, |ynew_j|)))^2 ) )
//
// over all cells and species, floored to avoid a zero denominator in the
// controller.
func (s *RosenbrockSolver) normalizedError(y, ynew, yerr *matrix.Dense) float64 {
	p := s.parameters
	cells, n := y.Dims()
	yv, nv, ev := y.AsSlice(), ynew.AsSlice(), yerr.AsSlice()
	stride := y.Stride()

	sum := 0.0
	for cell := 0; cell < cells; cell++ {
		base := y.CellBase(cell)
		for j := 0; j < n; j++ {
			idx := base + j*stride
			scale := s.absTol[j] + p.RelativeTolerance*math.Max(math.Abs(yv[idx]), math.Abs(nv[idx]))
			r := ev[idx] / scale
			sum += r * r
		}
	}
	const errMin = 1.0e-10
	return math.Max(math.Sqrt(sum/float64(cells*n)), errMin)
}

func clampNegatives(m *matrix.Dense) {
	v := m.AsSlice()
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}
