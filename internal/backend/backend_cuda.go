//go:build cuda
// +build cuda

package backend

import (
	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/solver"
	"go.uber.org/zap"
)

// newCUDA creates the CUDA backend when the cuda build tag is present.
func newCUDA(logger *zap.Logger) (*Backend, error) {
	rt, err := device.NewCUDA(logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Kind:    KindCUDA,
		Runtime: rt,
		BLAS:    blas.NewCUBLAS(logger),
		Solver:  solver.NewCUSOLVER(logger),
	}, nil
}
