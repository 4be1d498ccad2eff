// Package kernel generates and runs the optional runtime-specialized
// stage-matrix routine. The routine is compiled through OCCA at solver
// construction; any failure along the way degrades to the solver's generic
// path instead of surfacing.
package kernel

import (
	"errors"
	"fmt"

	"github.com/notargets/gocca"
)

// ErrSpecializationFailed reports that no specialized kernel could be
// generated; callers fall back to the generic stage-matrix builder.
var ErrSpecializationFailed = errors.New("kernel: specialization failed")

// NewDevice opens an OCCA device, preferring parallel backends and falling
// back to serial.
func NewDevice() (*gocca.OCCADevice, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}
	var lastErr error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: no OCCA backend available: %v", ErrSpecializationFailed, lastErr)
}
