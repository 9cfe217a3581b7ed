// Package batchptr builds the device-resident pointer arrays used by batched
// vendor routines.
package batchptr

import (
	"encoding/binary"
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
)

// Staging is the host memory backing a batch pointer array copy. The
// caller owns it and must keep it alive until the copy issued by Build has
// completed on its stream: release it with Release after synchronizing the
// stream, or with ReleaseOnStream to defer the release to the stream itself.
type Staging struct {
	buf   *device.HostBuffer
	batch int
}

// Build writes the addresses base, base+stride, ..., base+(batch-1)*stride
// into staging memory and enqueues a copy of them into dst on stream.
func Build(rt device.Runtime, stream device.Stream, base, dst device.Ptr, batch, stride int) (*Staging, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch pointers: invalid batch count %d", batch)
	}
	buf, err := rt.HostAlloc(batch * device.PointerSize)
	if err != nil {
		return nil, fmt.Errorf("batch pointers: %w", err)
	}
	host := buf.Bytes()
	for i := 0; i < batch; i++ {
		binary.NativeEndian.PutUint64(host[i*device.PointerSize:], uint64(base.Add(i*stride)))
	}
	if err := rt.MemcpyHtoDAsync(stream, dst, buf); err != nil {
		// Nothing was enqueued, so the staging memory can go right away.
		buf.Free()
		return nil, fmt.Errorf("batch pointers: %w", err)
	}
	metrics.DeviceCopies.WithLabelValues("htod").Inc()
	return &Staging{buf: buf, batch: batch}, nil
}

// Pointers decodes the host-side copy of the addresses.
func (s *Staging) Pointers() []device.Ptr {
	host := s.buf.Bytes()
	ptrs := make([]device.Ptr, s.batch)
	for i := range ptrs {
		ptrs[i] = device.Ptr(binary.NativeEndian.Uint64(host[i*device.PointerSize:]))
	}
	return ptrs
}

// Release frees the staging memory. Only call it once the copy has
// completed.
func (s *Staging) Release() {
	s.buf.Free()
}

// ReleaseOnStream enqueues the release behind the copy on stream, so the
// staging memory is freed as soon as the stream reaches that point without
// blocking the caller.
func (s *Staging) ReleaseOnStream(rt device.Runtime, stream device.Stream) error {
	return rt.LaunchHostFunc(stream, s.buf.Free)
}
