//go:build !cuda
// +build !cuda

package backend

import (
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"go.uber.org/zap"
)

// newCUDA reports the CUDA backend as unavailable when the cuda build tag
// is NOT present.
func newCUDA(logger *zap.Logger) (*Backend, error) {
	return nil, fmt.Errorf("compiled without CUDA support: %w", device.ErrUnavailable)
}
