package device

import (
	"errors"
	"fmt"
)

// PointerSize is the width in bytes of a device address as stored in a
// batch pointer array.
const PointerSize = 8

// Stream identifies an ordered queue of device operations. The zero value is
// the default stream.
type Stream uintptr

// DefaultStream is the legacy default stream.
const DefaultStream Stream = 0

func (s Stream) String() string {
	return fmt.Sprintf("stream(%#x)", uintptr(s))
}

// Ptr is a raw device memory address.
type Ptr uintptr

// Add returns p offset by n bytes.
func (p Ptr) Add(n int) Ptr {
	return p + Ptr(n)
}

func (p Ptr) String() string {
	return fmt.Sprintf("%#x", uintptr(p))
}

var (
	// ErrInvalidPointer is returned when a device address does not fall
	// inside a live allocation large enough for the requested access.
	ErrInvalidPointer = errors.New("invalid device pointer")
	// ErrInvalidStream is returned for operations on an unknown stream.
	ErrInvalidStream = errors.New("invalid stream")
	// ErrUnavailable is returned when a runtime cannot be used on this host.
	ErrUnavailable = errors.New("device runtime not available")
)

// HostBuffer is host memory that device copies may read asynchronously.
// For the CUDA runtime it is page-locked memory outside the Go heap.
type HostBuffer struct {
	data  []byte
	free  func()
	freed bool
}

// NewHostBuffer wraps data with a release function. Runtimes use it to hand
// out staging memory.
func NewHostBuffer(data []byte, free func()) *HostBuffer {
	return &HostBuffer{data: data, free: free}
}

// Bytes returns the buffer contents. It must not be used after Free.
func (b *HostBuffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer size in bytes.
func (b *HostBuffer) Len() int {
	return len(b.data)
}

// Free releases the buffer. Calling Free more than once is a no-op.
func (b *HostBuffer) Free() {
	if b.freed {
		return
	}
	b.freed = true
	if b.free != nil {
		b.free()
	}
	b.data = nil
}

// Freed reports whether Free has been called.
func (b *HostBuffer) Freed() bool {
	return b.freed
}

// Runtime is the subset of an accelerator runtime the kernels need.
//
// All *Async methods and LaunchHostFunc only enqueue work on the stream;
// the work runs in issue order with respect to other work on the same
// stream. Memory passed to MemcpyHtoDAsync must stay valid until the copy
// has completed.
type Runtime interface {
	// Name identifies the runtime, e.g. "host" or "cuda".
	Name() string

	// HostAlloc allocates staging memory usable as the source of an
	// asynchronous host-to-device copy.
	HostAlloc(size int) (*HostBuffer, error)

	// MemcpyHtoDAsync enqueues a copy of src into device memory at dst.
	MemcpyHtoDAsync(stream Stream, dst Ptr, src *HostBuffer) error

	// MemcpyDtoDAsync enqueues a device-to-device copy of size bytes.
	MemcpyDtoDAsync(stream Stream, dst, src Ptr, size int) error

	// LaunchHostFunc enqueues fn to run on the host once all previously
	// enqueued work on stream has completed.
	LaunchHostFunc(stream Stream, fn func()) error

	// Synchronize blocks until all work enqueued on stream has completed.
	Synchronize(stream Stream) error
}
