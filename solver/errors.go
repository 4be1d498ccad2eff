package solver

import "errors"

var (
	// ErrSingularMatrix reports a pivot below the configured threshold
	// during LU factorization.
	ErrSingularMatrix = errors.New("solver: singular stage matrix")
	// ErrNonFiniteState reports a NaN or infinity in the state, forcing,
	// or error estimate.
	ErrNonFiniteState = errors.New("solver: non-finite state")
	// ErrStepSizeTooSmall reports that the rejection budget or the h_min
	// floor was exhausted.
	ErrStepSizeTooSmall = errors.New("solver: step size too small")
	// ErrMaxStepsExceeded reports that the step budget ran out before the
	// end of the integration interval.
	ErrMaxStepsExceeded = errors.New("solver: maximum step count exceeded")
)
