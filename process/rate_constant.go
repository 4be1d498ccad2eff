// Package process defines chemical processes, their rate-constant
// evaluators, and the batched forcing and Jacobian assemblers built over
// them.
package process

import "github.com/openatmos/chemrock/system"

// RateConstant evaluates the rate constant of one process for one grid
// cell. Evaluators are stateless after construction and safe to share.
//
// params is the evaluator's window into the cell's user-supplied rate
// parameters; its length equals CustomParameterCount.
type RateConstant interface {
	Calculate(c system.Conditions, params []float64) float64
	// CustomParameterCount reports how many per-cell user parameters the
	// evaluator consumes.
	CustomParameterCount() int
}
