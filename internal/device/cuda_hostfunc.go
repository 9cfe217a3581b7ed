//go:build cuda
// +build cuda

package device

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"
import (
	"runtime/cgo"
	"unsafe"
)

// goHostFuncTrampoline runs a Go callback enqueued by LaunchHostFunc. The
// driver invokes it on one of its own threads.
//
//export goHostFuncTrampoline
func goHostFuncTrampoline(userData unsafe.Pointer) {
	h := cgo.Handle(*(*C.uintptr_t)(userData))
	C.free(userData)
	fn := h.Value().(func())
	h.Delete()
	fn()
}
