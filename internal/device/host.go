package device

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

const (
	hostBaseAddress = 0x10000000
	hostAlignment   = 256
	// poisonByte overwrites staging memory on Free so that a copy reading
	// released memory produces recognisably wrong addresses.
	poisonByte = 0xDB
)

type allocation struct {
	base  Ptr
	data  []byte
	freed bool
}

type hostStream struct {
	mu    sync.Mutex // guards queue
	run   sync.Mutex // serializes Synchronize
	queue []func() error
}

// HostStats counts work issued to a Host runtime.
type HostStats struct {
	HostToDeviceCopies   int64
	DeviceToDeviceCopies int64
	HostFuncs            int64
	Synchronizations     int64
}

// Host is an in-process device. Device memory lives in the Go heap and
// streams are FIFO queues that run when the stream is synchronized, so
// enqueued work is genuinely deferred relative to the issuing goroutine.
type Host struct {
	logger *zap.Logger

	mu       sync.RWMutex
	next     Ptr
	allocs   []*allocation
	streams  map[Stream]*hostStream
	streamID Stream

	htod  atomic.Int64
	dtod  atomic.Int64
	funcs atomic.Int64
	syncs atomic.Int64
}

// NewHost creates a Host runtime with only the default stream.
func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		logger:  logger.Named("host"),
		next:    hostBaseAddress,
		streams: map[Stream]*hostStream{DefaultStream: {}},
	}
}

func (h *Host) Name() string {
	return "host"
}

// NewStream creates a new stream.
func (h *Host) NewStream() Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamID++
	s := h.streamID
	h.streams[s] = &hostStream{}
	return s
}

// Malloc allocates size bytes of zeroed device memory.
func (h *Host) Malloc(size int) (Ptr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("malloc of %d bytes: %w", size, ErrInvalidPointer)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	a := &allocation{base: h.next, data: alignedBytes(size)}
	h.allocs = append(h.allocs, a)
	// Leave a gap so that an overrun never lands in the next allocation.
	h.next += Ptr((size + 2*hostAlignment - 1) / hostAlignment * hostAlignment)
	return a.base, nil
}

// Free releases an allocation made by Malloc.
func (h *Host) Free(p Ptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, _ := h.find(p)
	if a == nil || a.base != p {
		return fmt.Errorf("free %s: %w", p, ErrInvalidPointer)
	}
	a.freed = true
	a.data = nil
	return nil
}

// View returns the device memory [p, p+size) as a byte slice aliasing the
// allocation. Host-side vendor libraries use it to operate in place.
func (h *Host) View(p Ptr, size int) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, off := h.find(p)
	if a == nil || size < 0 || off+size > len(a.data) {
		return nil, fmt.Errorf("access of %d bytes at %s: %w", size, p, ErrInvalidPointer)
	}
	return a.data[off : off+size : off+size], nil
}

// Write copies data into device memory synchronously.
func (h *Host) Write(p Ptr, data []byte) error {
	dst, err := h.View(p, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Read copies size bytes of device memory out synchronously.
func (h *Host) Read(p Ptr, size int) ([]byte, error) {
	src, err := h.View(p, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, src)
	return out, nil
}

// ReadPointers decodes n device addresses stored at p.
func (h *Host) ReadPointers(p Ptr, n int) ([]Ptr, error) {
	raw, err := h.View(p, n*PointerSize)
	if err != nil {
		return nil, err
	}
	ptrs := make([]Ptr, n)
	for i := range ptrs {
		ptrs[i] = Ptr(binary.NativeEndian.Uint64(raw[i*PointerSize:]))
	}
	return ptrs, nil
}

// ViewBatch reads a device array of n pointers at ptrs and returns a view
// of size bytes at each of them.
func (h *Host) ViewBatch(ptrs Ptr, n, size int) ([][]byte, error) {
	addrs, err := h.ReadPointers(ptrs, n)
	if err != nil {
		return nil, err
	}
	views := make([][]byte, n)
	for i, p := range addrs {
		if views[i], err = h.View(p, size); err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return views, nil
}

func (h *Host) HostAlloc(size int) (*HostBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("host alloc of %d bytes: %w", size, ErrInvalidPointer)
	}
	data := alignedBytes(size)
	return NewHostBuffer(data, func() {
		for i := range data {
			data[i] = poisonByte
		}
	}), nil
}

func (h *Host) MemcpyHtoDAsync(stream Stream, dst Ptr, src *HostBuffer) error {
	if src == nil || src.Freed() {
		return fmt.Errorf("memcpy from released host buffer: %w", ErrInvalidPointer)
	}
	// Validate the destination at enqueue time, as the driver does.
	if _, err := h.View(dst, src.Len()); err != nil {
		return err
	}
	// Keep the backing slice, not the HostBuffer: Free poisons it in place,
	// which is what a premature release looks like on real hardware.
	data := src.data
	err := h.Enqueue(stream, func() error {
		out, err := h.View(dst, len(data))
		if err != nil {
			return err
		}
		copy(out, data)
		return nil
	})
	if err == nil {
		h.htod.Add(1)
	}
	return err
}

func (h *Host) MemcpyDtoDAsync(stream Stream, dst, src Ptr, size int) error {
	if _, err := h.View(dst, size); err != nil {
		return err
	}
	if _, err := h.View(src, size); err != nil {
		return err
	}
	err := h.Enqueue(stream, func() error {
		out, err := h.View(dst, size)
		if err != nil {
			return err
		}
		in, err := h.View(src, size)
		if err != nil {
			return err
		}
		copy(out, in)
		return nil
	})
	if err == nil {
		h.dtod.Add(1)
	}
	return err
}

func (h *Host) LaunchHostFunc(stream Stream, fn func()) error {
	err := h.Enqueue(stream, func() error {
		fn()
		return nil
	})
	if err == nil {
		h.funcs.Add(1)
	}
	return err
}

// Enqueue appends op to the stream's queue.
func (h *Host) Enqueue(stream Stream, op func() error) error {
	s, err := h.stream(stream)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.queue = append(s.queue, op)
	s.mu.Unlock()
	return nil
}

// Pending returns the number of operations queued on stream.
func (h *Host) Pending(stream Stream) int {
	s, err := h.stream(stream)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Synchronize runs every operation queued on stream in issue order and
// returns the first error encountered. Later operations still run.
func (h *Host) Synchronize(stream Stream) error {
	s, err := h.stream(stream)
	if err != nil {
		return err
	}
	h.syncs.Add(1)
	s.run.Lock()
	defer s.run.Unlock()
	var first error
	for {
		s.mu.Lock()
		ops := s.queue
		s.queue = nil
		s.mu.Unlock()
		if len(ops) == 0 {
			return first
		}
		for _, op := range ops {
			if err := op(); err != nil && first == nil {
				h.logger.Debug("stream operation failed", zap.Stringer("stream", stream), zap.Error(err))
				first = err
			}
		}
	}
}

// Stats returns counters of the work issued so far.
func (h *Host) Stats() HostStats {
	return HostStats{
		HostToDeviceCopies:   h.htod.Load(),
		DeviceToDeviceCopies: h.dtod.Load(),
		HostFuncs:            h.funcs.Load(),
		Synchronizations:     h.syncs.Load(),
	}
}

func (h *Host) stream(s Stream) (*hostStream, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hs, ok := h.streams[s]
	if !ok {
		return nil, fmt.Errorf("%s: %w", s, ErrInvalidStream)
	}
	return hs, nil
}

// find locates the live allocation containing p. Callers hold h.mu.
func (h *Host) find(p Ptr) (*allocation, int) {
	i := sort.Search(len(h.allocs), func(i int) bool {
		return h.allocs[i].base > p
	}) - 1
	if i < 0 {
		return nil, 0
	}
	a := h.allocs[i]
	off := int(p - a.base)
	if a.freed || off >= len(a.data) {
		return nil, 0
	}
	return a, off
}

// alignedBytes returns a zeroed byte slice backed by 8-byte aligned memory
// so typed views of complex128 and pointer arrays are valid.
func alignedBytes(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}
