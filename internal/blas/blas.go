// Package blas is the vendor BLAS interface used by the batched kernels.
//
// Matrices are column-major. Batched routines take device arrays of
// per-matrix pointers. Routines only enqueue work on the stream the handle
// is bound to.
package blas

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
)

// Handle is an opaque library context.
type Handle uintptr

// Side selects whether the triangular matrix multiplies from the left or
// the right. Values match cublasSideMode_t.
type Side int32

const (
	Left  Side = 0
	Right Side = 1
)

// Fill selects the referenced triangle. Values match cublasFillMode_t.
type Fill int32

const (
	Lower Fill = 0
	Upper Fill = 1
)

// Operation is the operation applied to a matrix operand. Values match
// cublasOperation_t.
type Operation int32

const (
	NoTrans   Operation = 0
	Trans     Operation = 1
	ConjTrans Operation = 2
)

// Diag marks whether a triangular matrix has an implicit unit diagonal.
// Values match cublasDiagType_t.
type Diag int32

const (
	NonUnit Diag = 0
	Unit    Diag = 1
)

// ErrVendor wraps every failure reported by the library itself.
var ErrVendor = errors.New("blas")

// Status is a library status code.
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
		return "CUBLAS_STATUS_SUCCESS"
	case StatusNotInitialized:
		return "CUBLAS_STATUS_NOT_INITIALIZED"
	case StatusAllocFailed:
		return "CUBLAS_STATUS_ALLOC_FAILED"
	case StatusInvalidValue:
		return "CUBLAS_STATUS_INVALID_VALUE"
	case StatusExecutionFailed:
		return "CUBLAS_STATUS_EXECUTION_FAILED"
	case StatusInternalError:
		return "CUBLAS_STATUS_INTERNAL_ERROR"
	case StatusNotSupported:
		return "CUBLAS_STATUS_NOT_SUPPORTED"
	}
	return fmt.Sprintf("CUBLAS_STATUS(%d)", int(s))
}

// Error builds the error returned for a failing routine.
func Error(routine string, s Status) error {
	return fmt.Errorf("%w: %s failed: %s", ErrVendor, routine, s)
}

// Library is a BLAS implementation with batched routines.
type Library interface {
	Create() (Handle, error)
	SetStream(h Handle, stream device.Stream) error
	Destroy(h Handle) error

	// TrsmBatched solves op(A_i) X_i = B_i (left side) or
	// X_i op(A_i) = B_i (right side) for each i in the batch, overwriting
	// B_i with X_i. alpha is one. a and b are device arrays of batch
	// pointers.
	TrsmBatched(h Handle, t dtype.Type, side Side, uplo Fill, trans Operation, diag Diag,
		m, n int, a device.Ptr, lda int, b device.Ptr, ldb int, batch int) error

	// GetrfBatched computes in place the LU factorization with partial
	// pivoting of each n×n matrix. pivots receives batch×n one-based int32
	// row indices and info receives one int32 per matrix: zero on success,
	// k > 0 when U(k,k) is exactly zero.
	GetrfBatched(h Handle, t dtype.Type, n int, a device.Ptr, lda int, pivots, info device.Ptr, batch int) error
}
