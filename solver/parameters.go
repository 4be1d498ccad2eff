package solver

import "math"

// Parameters configures a Rosenbrock W-method solver: the method tableau,
// the tolerances, the step-size controller, and the batch layout.
//
// The tableau slices A and C pack the strictly lower triangular stage
// coefficients row by row (a21, a31, a32, a41, ...). Gamma[0] is the
// diagonal implicitness used to form the stage matrix.
type Parameters struct {
	Stages                int
	A                     []float64
	C                     []float64
	M                     []float64
	E                     []float64
	Alpha                 []float64
	Gamma                 []float64
	EstimatorOfLocalOrder float64

	// AbsoluteTolerance may hold one entry per species or a single entry
	// broadcast to all species.
	AbsoluteTolerance []float64
	RelativeTolerance float64

	// Cells is the number of independent grid cells advanced per call.
	Cells int
	// GroupVectorSize selects the matrix storage policy: 1 for the
	// standard cell-major ordering, larger values for the
	// cell-interleaved vectorized ordering.
	GroupVectorSize int

	Hstart float64
	Hmin   float64
	Hmax   float64

	FactorMin     float64
	FactorMax     float64
	FactorReject  float64
	SafetyFactor  float64
	MaxSteps      int
	MaxRejections int

	// PivotThreshold is the smallest |U[i,i]| accepted during numeric
	// factorization.
	PivotThreshold float64

	// ReorderState applies the diagonal-Markowitz permutation to the
	// state ordering before the symbolic factorization.
	ReorderState bool

	// Specialize requests a runtime-compiled stage-matrix kernel; the
	// solver falls back to the generic path when compilation fails.
	Specialize bool
}

func defaultParameters() Parameters {
	return Parameters{
		AbsoluteTolerance: []float64{1.0e-3},
		RelativeTolerance: 1.0e-4,
		Cells:             1,
		GroupVectorSize:   1,
		Hstart:            0,
		Hmin:              0,
		Hmax:              0,
		FactorMin:         0.2,
		FactorMax:         10.0,
		FactorReject:      1.0,
		SafetyFactor:      0.9,
		MaxSteps:          1000,
		MaxRejections:     5,
		PivotThreshold:    1.0e-30,
		ReorderState:      true,
	}
}

// TwoStageRosenbrockParameters is an L-stable method of order 2(1).
func TwoStageRosenbrockParameters() Parameters {
	p := defaultParameters()
	g := 1.0 + 1.0/math.Sqrt2
	p.Stages = 2
	p.A = []float64{1.0 / g}
	p.C = []float64{-2.0 / g}
	p.M = []float64{3.0 / (2.0 * g), 1.0 / (2.0 * g)}
	p.E = []float64{1.0 / (2.0 * g), 1.0 / (2.0 * g)}
	p.Alpha = []float64{0, 1}
	p.Gamma = []float64{g, -g}
	p.EstimatorOfLocalOrder = 2
	return p
}

// ThreeStageRosenbrockParameters is an L-stable method of order 3(2).
func ThreeStageRosenbrockParameters() Parameters {
	p := defaultParameters()
	p.Stages = 3
	p.A = []float64{1, 1, 0}
	p.C = []float64{
		-0.10156171083877702091975600115545e+01,
		0.40759956452537699824805835358067e+01,
		0.92076794298330791242156818474003e+01,
	}
	p.M = []float64{
		1,
		0.61697947043828245592553615689730e+01,
		-0.42772256543218573326238373806514e+00,
	}
	p.E = []float64{
		0.5,
		-0.29079558716805469821718236208017e+01,
		0.22354069897811569627360909276199e+00,
	}
	p.Alpha = []float64{
		0,
		0.43586652150845899941601945119356e+00,
		0.43586652150845899941601945119356e+00,
	}
	p.Gamma = []float64{
		0.43586652150845899941601945119356e+00,
		0.24291996454816804366592249683314e+00,
		0.21851380027664058511513169485832e+01,
	}
	p.EstimatorOfLocalOrder = 3
	return p
}

// FourStageRosenbrockParameters is an L-stable method of order 4(3).
func FourStageRosenbrockParameters() Parameters {
	p := defaultParameters()
	p.Stages = 4
	p.A = []float64{
		0.2000000000000000e+01,
		0.1867943637803922e+01,
		0.2344449711399156e+00,
		0.1867943637803922e+01,
		0.2344449711399156e+00,
		0,
	}
	p.C = []float64{
		-0.7137615036412310e+01,
		0.2580708087951457e+01,
		0.6515950076447975e+00,
		-0.2137148994382534e+01,
		-0.3214669691237626e+00,
		-0.6949742501781779e+00,
	}
	p.M = []float64{
		0.2255570073418735e+01,
		0.2870493262186792e+00,
		0.4353179431840180e+00,
		0.1093502252409163e+01,
	}
	p.E = []float64{
		-0.2815431932141155e+00,
		-0.7276199124938920e-01,
		-0.1082196201495311e+00,
		-0.1093502252409163e+01,
	}
	p.Alpha = []float64{
		0,
		0.1145640000000000e+01,
		0.6552168638155900e+00,
		0.6552168638155900e+00,
	}
	p.Gamma = []float64{
		0.5728200000000000e+00,
		-0.1769193891319233e+01,
		0.7592633437920482e+00,
		-0.1049021087100450e+00,
	}
	p.EstimatorOfLocalOrder = 4
	return p
}

// FourStageDifferentialAlgebraicRosenbrockParameters is a stiffly accurate
// method of order 3, usable for differential-algebraic problems.
func FourStageDifferentialAlgebraicRosenbrockParameters() Parameters {
	p := defaultParameters()
	p.Stages = 4
	p.A = []float64{0, 2, 0, 2, 0, 1}
	p.C = []float64{4, 1, -1, 1, -1, -8.0 / 3.0}
	p.M = []float64{2, 0, 1, 1}
	p.E = []float64{0, 0, 0, 1}
	p.Alpha = []float64{0, 0, 1, 1}
	p.Gamma = []float64{0.5, 1.5, 0, 0}
	p.EstimatorOfLocalOrder = 3
	return p
}

// SixStageDifferentialAlgebraicRosenbrockParameters is a stiffly accurate
// method of order 4(3), usable for differential-algebraic problems.
func SixStageDifferentialAlgebraicRosenbrockParameters() Parameters {
	p := defaultParameters()
	p.Stages = 6
	p.A = []float64{
		0.1544000000000000e+01,
		0.9466785280815826e+00,
		0.2557011698983284e+00,
		0.3314825187068521e+01,
		0.2896124015972201e+01,
		0.9986419139977817e+00,
		0.1221224509226641e+01,
		0.6019134481288629e+01,
		0.1253708332932087e+02,
		-0.6878860361058950e+00,
		0.1221224509226641e+01,
		0.6019134481288629e+01,
		0.1253708332932087e+02,
		-0.6878860361058950e+00,
		1,
	}
	p.C = []float64{
		-0.5668800000000000e+01,
		-0.2430093356833875e+01,
		-0.2063599157091915e+00,
		-0.1073529058151375e+00,
		-0.9594562251023355e+01,
		-0.2047028614809616e+02,
		0.7496443313967647e+01,
		-0.1024680431464352e+02,
		-0.3399990352819905e+02,
		0.1170890893206160e+02,
		0.8083246795921522e+01,
		-0.7981132988064893e+01,
		-0.3152159432874371e+02,
		0.1631930543123136e+02,
		-0.6058818238834054e+01,
	}
	p.M = []float64{
		0.1221224509226641e+01,
		0.6019134481288629e+01,
		0.1253708332932087e+02,
		-0.6878860361058950e+00,
		1,
		1,
	}
	p.E = []float64{0, 0, 0, 0, 0, 1}
	p.Alpha = []float64{0, 0.386, 0.21, 0.63, 1, 1}
	p.Gamma = []float64{
		0.25,
		-0.1043e+00,
		0.1035e+00,
		-0.3620000000000023e-01,
		0,
		0,
	}
	p.EstimatorOfLocalOrder = 4
	return p
}
