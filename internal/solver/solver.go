// Package solver is the vendor dense-solver interface. It needs its own
// library handles, separate from BLAS handles.
package solver

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
)

// Handle is an opaque solver context.
type Handle uintptr

// ErrVendor wraps every failure reported by the solver library.
var ErrVendor = errors.New("solver")

// Status is a solver status code.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotInitialized
	StatusAllocFailed
	StatusInvalidValue
	StatusExecutionFailed
	StatusInternalError
	StatusNotSupported
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "CUSOLVER_STATUS_SUCCESS"
	case StatusNotInitialized:
		return "CUSOLVER_STATUS_NOT_INITIALIZED"
	case StatusAllocFailed:
		return "CUSOLVER_STATUS_ALLOC_FAILED"
	case StatusInvalidValue:
		return "CUSOLVER_STATUS_INVALID_VALUE"
	case StatusExecutionFailed:
		return "CUSOLVER_STATUS_EXECUTION_FAILED"
	case StatusInternalError:
		return "CUSOLVER_STATUS_INTERNAL_ERROR"
	case StatusNotSupported:
		return "CUSOLVER_STATUS_NOT_SUPPORTED"
	}
	return fmt.Sprintf("CUSOLVER_STATUS(%d)", int(s))
}

// Error builds the error returned for a failing routine.
func Error(routine string, s Status) error {
	return fmt.Errorf("%w: %s failed: %s", ErrVendor, routine, s)
}

// Library is a dense solver with batched routines.
type Library interface {
	Create() (Handle, error)
	SetStream(h Handle, stream device.Stream) error
	Destroy(h Handle) error

	// PotrfBatched computes in place the Cholesky factorization of each
	// Hermitian positive definite n×n matrix, referencing the uplo
	// triangle. info receives one int32 per matrix: zero on success, k > 0
	// when the leading minor of order k is not positive definite.
	PotrfBatched(h Handle, t dtype.Type, uplo blas.Fill, n int, a device.Ptr, lda int, info device.Ptr, batch int) error
}
