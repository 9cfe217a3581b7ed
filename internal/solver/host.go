package solver

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"go.uber.org/zap"
	lapack "gonum.org/v1/gonum/lapack/gonum"
)

// Host implements Library on a device.Host runtime using gonum.
type Host struct {
	rt     *device.Host
	logger *zap.Logger
	lapack lapack.Implementation

	mu      sync.Mutex
	next    Handle
	streams map[Handle]device.Stream
}

// NewHost returns a host solver bound to rt.
func NewHost(rt *device.Host, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		rt:      rt,
		logger:  logger.Named("solver"),
		streams: make(map[Handle]device.Stream),
	}
}

func (l *Host) Create() (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.streams[l.next] = device.DefaultStream
	return l.next, nil
}

func (l *Host) SetStream(h Handle, stream device.Stream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[h]; !ok {
		return Error("setStream", StatusNotInitialized)
	}
	l.streams[h] = stream
	return nil
}

func (l *Host) Destroy(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[h]; !ok {
		return Error("destroy", StatusNotInitialized)
	}
	delete(l.streams, h)
	return nil
}

// Stream returns the stream h is bound to.
func (l *Host) Stream(h Handle) (device.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[h]
	if !ok {
		return 0, Error("getStream", StatusNotInitialized)
	}
	return s, nil
}

func (l *Host) PotrfBatched(h Handle, t dtype.Type, uplo blas.Fill, n int, a device.Ptr, lda int, info device.Ptr, batch int) error {
	const routine = "potrfBatched"
	stream, err := l.Stream(h)
	if err != nil {
		return err
	}
	if !t.Valid() || n < 0 || batch < 0 || lda < max(1, n) || (uplo != blas.Lower && uplo != blas.Upper) {
		return Error(routine, StatusInvalidValue)
	}
	if n == 0 || batch == 0 {
		return nil
	}
	aSize := t.Size() * (lda*(n-1) + n)
	return l.rt.Enqueue(stream, func() error {
		as, err := l.rt.ViewBatch(a, batch, aSize)
		if err != nil {
			return fmt.Errorf("%w: %s: A: %w", ErrVendor, routine, err)
		}
		infoRaw, err := l.rt.View(info, 4*batch)
		if err != nil {
			return fmt.Errorf("%w: %s: info: %w", ErrVendor, routine, err)
		}
		infos := device.ViewAs[int32](infoRaw)
		for i := range batch {
			switch t {
			case dtype.F32:
				infos[i] = potrfReal(l.lapack, uplo, n, device.ViewAs[float32](as[i]), lda)
			case dtype.F64:
				infos[i] = potrfReal(l.lapack, uplo, n, device.ViewAs[float64](as[i]), lda)
			case dtype.C64:
				infos[i] = potrfComplex(uplo, n, device.ViewAs[complex64](as[i]), lda)
			case dtype.C128:
				infos[i] = potrfComplex(uplo, n, device.ViewAs[complex128](as[i]), lda)
			}
		}
		return nil
	})
}
