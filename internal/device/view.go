package device

import "unsafe"

// ViewAs reinterprets b as a slice of T. len(b) must be a multiple of
// unsafe.Sizeof(T) and b must be suitably aligned for T; buffers returned
// by Host.View satisfy this for all element types the kernels use.
func ViewAs[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}
