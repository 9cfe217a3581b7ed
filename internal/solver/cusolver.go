//go:build cuda
// +build cuda

package solver

/*
#cgo LDFLAGS: -lcusolver -lcudart
#include <cusolverDn.h>
*/
import "C"
import (
	"unsafe"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"go.uber.org/zap"
)

// CUSOLVER implements Library with the cuSOLVER dense API.
type CUSOLVER struct {
	logger *zap.Logger
}

// NewCUSOLVER returns the cuSOLVER library.
func NewCUSOLVER(logger *zap.Logger) *CUSOLVER {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CUSOLVER{logger: logger.Named("cusolver")}
}

func (l *CUSOLVER) Create() (Handle, error) {
	var h C.cusolverDnHandle_t
	if s := C.cusolverDnCreate(&h); s != C.CUSOLVER_STATUS_SUCCESS {
		return 0, Error("cusolverDnCreate", cusolverStatus(s))
	}
	return Handle(uintptr(unsafe.Pointer(h))), nil
}

func (l *CUSOLVER) SetStream(h Handle, stream device.Stream) error {
	s := C.cusolverDnSetStream(handle(h), C.cudaStream_t(unsafe.Pointer(uintptr(stream))))
	return check("cusolverDnSetStream", s)
}

func (l *CUSOLVER) Destroy(h Handle) error {
	return check("cusolverDnDestroy", C.cusolverDnDestroy(handle(h)))
}

func (l *CUSOLVER) PotrfBatched(h Handle, t dtype.Type, uplo blas.Fill, n int, a device.Ptr, lda int, info device.Ptr, batch int) error {
	cu := C.cublasFillMode_t(uplo)
	infos := (*C.int)(ptr(info))
	switch t {
	case dtype.F32:
		return check("cusolverDnSpotrfBatched", C.cusolverDnSpotrfBatched(handle(h), cu, C.int(n),
			(**C.float)(ptr(a)), C.int(lda), infos, C.int(batch)))
	case dtype.F64:
		return check("cusolverDnDpotrfBatched", C.cusolverDnDpotrfBatched(handle(h), cu, C.int(n),
			(**C.double)(ptr(a)), C.int(lda), infos, C.int(batch)))
	case dtype.C64:
		return check("cusolverDnCpotrfBatched", C.cusolverDnCpotrfBatched(handle(h), cu, C.int(n),
			(**C.cuComplex)(ptr(a)), C.int(lda), infos, C.int(batch)))
	case dtype.C128:
		return check("cusolverDnZpotrfBatched", C.cusolverDnZpotrfBatched(handle(h), cu, C.int(n),
			(**C.cuDoubleComplex)(ptr(a)), C.int(lda), infos, C.int(batch)))
	}
	return Error("potrfBatched", StatusInvalidValue)
}

func check(routine string, s C.cusolverStatus_t) error {
	if s == C.CUSOLVER_STATUS_SUCCESS {
		return nil
	}
	return Error(routine, cusolverStatus(s))
}

func cusolverStatus(s C.cusolverStatus_t) Status {
	switch s {
	case C.CUSOLVER_STATUS_NOT_INITIALIZED:
		return StatusNotInitialized
	case C.CUSOLVER_STATUS_ALLOC_FAILED:
		return StatusAllocFailed
	case C.CUSOLVER_STATUS_INVALID_VALUE:
		return StatusInvalidValue
	case C.CUSOLVER_STATUS_EXECUTION_FAILED:
		return StatusExecutionFailed
	case C.CUSOLVER_STATUS_NOT_SUPPORTED:
		return StatusNotSupported
	}
	return StatusInternalError
}

func handle(h Handle) C.cusolverDnHandle_t {
	return C.cusolverDnHandle_t(unsafe.Pointer(uintptr(h)))
}

func ptr(p device.Ptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}
