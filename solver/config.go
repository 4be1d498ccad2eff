package solver

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// parametersFile is the on-disk override set for a Parameters value. The
// tolerances, batch layout, controller knobs, and solver options are
// configurable; the method tableau always comes from one of the built-in
// parameter constructors.
type parametersFile struct {
	Stages            int       `toml:"stages"`
	AbsoluteTolerance []float64 `toml:"abs_tol"`
	RelativeTolerance float64   `toml:"rel_tol"`
	Cells             int       `toml:"cells"`
	GroupVectorSize   int       `toml:"group_vector_size"`
	Hstart            float64   `toml:"h_start"`
	Hmin              float64   `toml:"h_min"`
	Hmax              float64   `toml:"h_max"`
	FactorMin         float64   `toml:"h_factor_min"`
	FactorMax         float64   `toml:"h_factor_max"`
	FactorReject      float64   `toml:"h_factor_reject"`
	SafetyFactor      float64   `toml:"safety"`
	MaxSteps          int       `toml:"max_steps"`
	MaxRejections     int       `toml:"max_rejections"`
	PivotThreshold    float64   `toml:"pivot_threshold"`
	ReorderState      *bool     `toml:"reorder_state"`
	Specialize        *bool     `toml:"specialize"`
}

// LoadParameters reads controller overrides from a TOML file on top of the
// built-in tableau selected by the file's stages entry (three-stage when
// absent).
func LoadParameters(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("solver: reading parameter file: %w", err)
	}
	var f parametersFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Parameters{}, fmt.Errorf("solver: parsing parameter file %s: %w", path, err)
	}

	var p Parameters
	switch f.Stages {
	case 0, 3:
		p = ThreeStageRosenbrockParameters()
	case 2:
		p = TwoStageRosenbrockParameters()
	case 4:
		p = FourStageRosenbrockParameters()
	case 6:
		p = SixStageDifferentialAlgebraicRosenbrockParameters()
	default:
		return Parameters{}, fmt.Errorf("solver: no built-in tableau with %d stages", f.Stages)
	}

	if len(f.AbsoluteTolerance) > 0 {
		p.AbsoluteTolerance = f.AbsoluteTolerance
	}
	if f.RelativeTolerance > 0 {
		p.RelativeTolerance = f.RelativeTolerance
	}
	if f.Cells > 0 {
		p.Cells = f.Cells
	}
	if f.GroupVectorSize > 0 {
		p.GroupVectorSize = f.GroupVectorSize
	}
	if f.Hstart > 0 {
		p.Hstart = f.Hstart
	}
	if f.Hmin > 0 {
		p.Hmin = f.Hmin
	}
	if f.Hmax > 0 {
		p.Hmax = f.Hmax
	}
	if f.FactorMin > 0 {
		p.FactorMin = f.FactorMin
	}
	if f.FactorMax > 0 {
		p.FactorMax = f.FactorMax
	}
	if f.FactorReject > 0 {
		p.FactorReject = f.FactorReject
	}
	if f.SafetyFactor > 0 {
		p.SafetyFactor = f.SafetyFactor
	}
	if f.MaxSteps > 0 {
		p.MaxSteps = f.MaxSteps
	}
	if f.MaxRejections > 0 {
		p.MaxRejections = f.MaxRejections
	}
	if f.PivotThreshold > 0 {
		p.PivotThreshold = f.PivotThreshold
	}
	if f.ReorderState != nil {
		p.ReorderState = *f.ReorderState
	}
	if f.Specialize != nil {
		p.Specialize = *f.Specialize
	}
	return p, nil
}
