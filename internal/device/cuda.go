//go:build cuda
// +build cuda

package device

/*
#cgo LDFLAGS: -lcudart
#include <stdint.h>
#include <stdlib.h>
#include <cuda_runtime_api.h>

extern void goHostFuncTrampoline(void* userData);
*/
import "C"
import (
	"fmt"
	"runtime/cgo"
	"unsafe"

	"go.uber.org/zap"
)

// CUDA is the Runtime backed by the CUDA runtime API. Stream values are
// cudaStream_t handles supplied by the caller.
type CUDA struct {
	logger *zap.Logger
}

// NewCUDA returns the CUDA runtime, or ErrUnavailable when no device is
// visible.
func NewCUDA(logger *zap.Logger) (*CUDA, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var count C.int
	if err := C.cudaGetDeviceCount(&count); err != C.cudaSuccess {
		return nil, fmt.Errorf("cudaGetDeviceCount: %s: %w", cudaErrorString(err), ErrUnavailable)
	}
	if count == 0 {
		return nil, fmt.Errorf("no CUDA devices: %w", ErrUnavailable)
	}
	return &CUDA{logger: logger.Named("cuda")}, nil
}

func (c *CUDA) Name() string {
	return "cuda"
}

func (c *CUDA) HostAlloc(size int) (*HostBuffer, error) {
	var p unsafe.Pointer
	if err := C.cudaMallocHost(&p, C.size_t(size)); err != C.cudaSuccess {
		return nil, asError("cudaMallocHost", err)
	}
	data := unsafe.Slice((*byte)(p), size)
	return NewHostBuffer(data, func() {
		if err := C.cudaFreeHost(p); err != C.cudaSuccess {
			c.logger.Warn("cudaFreeHost failed", zap.String("error", cudaErrorString(err)))
		}
	}), nil
}

func (c *CUDA) MemcpyHtoDAsync(stream Stream, dst Ptr, src *HostBuffer) error {
	if src == nil || src.Freed() || src.Len() == 0 {
		return fmt.Errorf("memcpy from released host buffer: %w", ErrInvalidPointer)
	}
	err := C.cudaMemcpyAsync(devPtr(dst), unsafe.Pointer(&src.Bytes()[0]), C.size_t(src.Len()),
		C.cudaMemcpyHostToDevice, cudaStream(stream))
	return asError("cudaMemcpyAsync", err)
}

func (c *CUDA) MemcpyDtoDAsync(stream Stream, dst, src Ptr, size int) error {
	err := C.cudaMemcpyAsync(devPtr(dst), devPtr(src), C.size_t(size),
		C.cudaMemcpyDeviceToDevice, cudaStream(stream))
	return asError("cudaMemcpyAsync", err)
}

func (c *CUDA) LaunchHostFunc(stream Stream, fn func()) error {
	h := cgo.NewHandle(fn)
	userData := C.malloc(C.size_t(unsafe.Sizeof(C.uintptr_t(0))))
	*(*C.uintptr_t)(userData) = C.uintptr_t(h)
	err := C.cudaLaunchHostFunc(cudaStream(stream), (C.cudaHostFn_t)(unsafe.Pointer(C.goHostFuncTrampoline)), userData)
	if err != C.cudaSuccess {
		C.free(userData)
		h.Delete()
		return asError("cudaLaunchHostFunc", err)
	}
	return nil
}

func (c *CUDA) Synchronize(stream Stream) error {
	return asError("cudaStreamSynchronize", C.cudaStreamSynchronize(cudaStream(stream)))
}

func asError(op string, err C.cudaError_t) error {
	if err == C.cudaSuccess {
		return nil
	}
	return fmt.Errorf("%s failed: %s", op, cudaErrorString(err))
}

func cudaErrorString(err C.cudaError_t) string {
	return C.GoString(C.cudaGetErrorString(err))
}

func cudaStream(s Stream) C.cudaStream_t {
	return C.cudaStream_t(unsafe.Pointer(uintptr(s)))
}

func devPtr(p Ptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}
