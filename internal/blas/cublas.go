//go:build cuda
// +build cuda

package blas

/*
#cgo LDFLAGS: -lcublas -lcudart
#include <cublas_v2.h>
#include <cuComplex.h>

static const float  kOneF = 1.0f;
static const double kOneD = 1.0;
static const cuComplex kOneC = {1.0f, 0.0f};
static const cuDoubleComplex kOneZ = {1.0, 0.0};
*/
import "C"
import (
	"unsafe"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"go.uber.org/zap"
)

// CUBLAS implements Library with cuBLAS.
type CUBLAS struct {
	logger *zap.Logger
}

// NewCUBLAS returns the cuBLAS library.
func NewCUBLAS(logger *zap.Logger) *CUBLAS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CUBLAS{logger: logger.Named("cublas")}
}

func (l *CUBLAS) Create() (Handle, error) {
	var h C.cublasHandle_t
	if s := C.cublasCreate(&h); s != C.CUBLAS_STATUS_SUCCESS {
		return 0, Error("cublasCreate", cublasStatus(s))
	}
	return Handle(uintptr(unsafe.Pointer(h))), nil
}

func (l *CUBLAS) SetStream(h Handle, stream device.Stream) error {
	s := C.cublasSetStream(handle(h), C.cudaStream_t(unsafe.Pointer(uintptr(stream))))
	return check("cublasSetStream", s)
}

func (l *CUBLAS) Destroy(h Handle) error {
	return check("cublasDestroy", C.cublasDestroy(handle(h)))
}

func (l *CUBLAS) TrsmBatched(h Handle, t dtype.Type, side Side, uplo Fill, trans Operation, diag Diag,
	m, n int, a device.Ptr, lda int, b device.Ptr, ldb int, batch int) error {
	cs := C.cublasSideMode_t(side)
	cu := C.cublasFillMode_t(uplo)
	ct := C.cublasOperation_t(trans)
	cd := C.cublasDiagType_t(diag)
	// alpha lives in host memory; the handle's default pointer mode is host.
	switch t {
	case dtype.F32:
		return check("cublasStrsmBatched", C.cublasStrsmBatched(handle(h), cs, cu, ct, cd,
			C.int(m), C.int(n), &C.kOneF,
			(**C.float)(ptr(a)), C.int(lda), (**C.float)(ptr(b)), C.int(ldb), C.int(batch)))
	case dtype.F64:
		return check("cublasDtrsmBatched", C.cublasDtrsmBatched(handle(h), cs, cu, ct, cd,
			C.int(m), C.int(n), &C.kOneD,
			(**C.double)(ptr(a)), C.int(lda), (**C.double)(ptr(b)), C.int(ldb), C.int(batch)))
	case dtype.C64:
		return check("cublasCtrsmBatched", C.cublasCtrsmBatched(handle(h), cs, cu, ct, cd,
			C.int(m), C.int(n), &C.kOneC,
			(**C.cuComplex)(ptr(a)), C.int(lda), (**C.cuComplex)(ptr(b)), C.int(ldb), C.int(batch)))
	case dtype.C128:
		return check("cublasZtrsmBatched", C.cublasZtrsmBatched(handle(h), cs, cu, ct, cd,
			C.int(m), C.int(n), &C.kOneZ,
			(**C.cuDoubleComplex)(ptr(a)), C.int(lda), (**C.cuDoubleComplex)(ptr(b)), C.int(ldb), C.int(batch)))
	}
	return Error("trsmBatched", StatusInvalidValue)
}

func (l *CUBLAS) GetrfBatched(h Handle, t dtype.Type, n int, a device.Ptr, lda int, pivots, info device.Ptr, batch int) error {
	ipiv := (*C.int)(ptr(pivots))
	infos := (*C.int)(ptr(info))
	switch t {
	case dtype.F32:
		return check("cublasSgetrfBatched", C.cublasSgetrfBatched(handle(h), C.int(n),
			(**C.float)(ptr(a)), C.int(lda), ipiv, infos, C.int(batch)))
	case dtype.F64:
		return check("cublasDgetrfBatched", C.cublasDgetrfBatched(handle(h), C.int(n),
			(**C.double)(ptr(a)), C.int(lda), ipiv, infos, C.int(batch)))
	case dtype.C64:
		return check("cublasCgetrfBatched", C.cublasCgetrfBatched(handle(h), C.int(n),
			(**C.cuComplex)(ptr(a)), C.int(lda), ipiv, infos, C.int(batch)))
	case dtype.C128:
		return check("cublasZgetrfBatched", C.cublasZgetrfBatched(handle(h), C.int(n),
			(**C.cuDoubleComplex)(ptr(a)), C.int(lda), ipiv, infos, C.int(batch)))
	}
	return Error("getrfBatched", StatusInvalidValue)
}

func check(routine string, s C.cublasStatus_t) error {
	if s == C.CUBLAS_STATUS_SUCCESS {
		return nil
	}
	return Error(routine, cublasStatus(s))
}

// cublasStatus maps the sparse cuBLAS status values onto Status.
func cublasStatus(s C.cublasStatus_t) Status {
	switch s {
	case C.CUBLAS_STATUS_NOT_INITIALIZED:
		return StatusNotInitialized
	case C.CUBLAS_STATUS_ALLOC_FAILED:
		return StatusAllocFailed
	case C.CUBLAS_STATUS_INVALID_VALUE:
		return StatusInvalidValue
	case C.CUBLAS_STATUS_EXECUTION_FAILED:
		return StatusExecutionFailed
	case C.CUBLAS_STATUS_NOT_SUPPORTED:
		return StatusNotSupported
	}
	return StatusInternalError
}

func handle(h Handle) C.cublasHandle_t {
	return C.cublasHandle_t(unsafe.Pointer(uintptr(h)))
}

func ptr(p device.Ptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}
