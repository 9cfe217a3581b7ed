package blas

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"go.uber.org/zap"
	gblas "gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"
	lapack "gonum.org/v1/gonum/lapack/gonum"
)

// Host implements Library on a device.Host runtime using gonum. Routines
// are enqueued on the handle's stream and run when the stream is
// synchronized.
type Host struct {
	rt     *device.Host
	logger *zap.Logger
	impl   gonum.Implementation
	lapack lapack.Implementation

	mu      sync.Mutex
	next    Handle
	streams map[Handle]device.Stream
}

// NewHost returns a host BLAS bound to rt.
func NewHost(rt *device.Host, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		rt:      rt,
		logger:  logger.Named("blas"),
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

func (l *Host) TrsmBatched(h Handle, t dtype.Type, side Side, uplo Fill, trans Operation, diag Diag,
	m, n int, a device.Ptr, lda int, b device.Ptr, ldb int, batch int) error {
	const routine = "trsmBatched"
	stream, err := l.Stream(h)
	if err != nil {
		return err
	}
	k := m
	if side == Right {
		k = n
	}
	if !t.Valid() || m < 0 || n < 0 || batch < 0 || lda < max(1, k) || ldb < max(1, m) {
		return Error(routine, StatusInvalidValue)
	}
	if m == 0 || n == 0 || batch == 0 {
		return nil
	}
	aSize := t.Size() * (lda*(k-1) + k)
	bSize := t.Size() * (ldb*(n-1) + m)
	return l.rt.Enqueue(stream, func() error {
		as, err := l.rt.ViewBatch(a, batch, aSize)
		if err != nil {
			return fmt.Errorf("%w: %s: A: %w", ErrVendor, routine, err)
		}
		bs, err := l.rt.ViewBatch(b, batch, bSize)
		if err != nil {
			return fmt.Errorf("%w: %s: B: %w", ErrVendor, routine, err)
		}
		for i := range batch {
			if err := l.trsm(t, side, uplo, trans, diag, m, n, as[i], lda, bs[i], ldb); err != nil {
				return err
			}
		}
		return nil
	})
}

// trsm solves one column-major system. A column-major matrix is the
// transpose of the same memory read row-major, so the row-major gonum
// routine is called with side and triangle flipped and m, n swapped.
func (l *Host) trsm(t dtype.Type, side Side, uplo Fill, trans Operation, diag Diag,
	m, n int, a []byte, lda int, b []byte, ldb int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Debug("trsm panicked", zap.Any("panic", r))
			err = Error("trsmBatched", StatusExecutionFailed)
		}
	}()
	s := gblas.Right
	if side == Right {
		s = gblas.Left
	}
	ul := gblas.Lower
	if uplo == Lower {
		ul = gblas.Upper
	}
	tA := gblas.NoTrans
	switch trans {
	case Trans:
		tA = gblas.Trans
	case ConjTrans:
		tA = gblas.ConjTrans
	}
	d := gblas.NonUnit
	if diag == Unit {
		d = gblas.Unit
	}
	switch t {
	case dtype.F32:
		l.impl.Strsm(s, ul, tA, d, n, m, 1, device.ViewAs[float32](a), lda, device.ViewAs[float32](b), ldb)
	case dtype.F64:
		l.impl.Dtrsm(s, ul, tA, d, n, m, 1, device.ViewAs[float64](a), lda, device.ViewAs[float64](b), ldb)
	case dtype.C64:
		l.impl.Ctrsm(s, ul, tA, d, n, m, 1, device.ViewAs[complex64](a), lda, device.ViewAs[complex64](b), ldb)
	case dtype.C128:
		l.impl.Ztrsm(s, ul, tA, d, n, m, 1, device.ViewAs[complex128](a), lda, device.ViewAs[complex128](b), ldb)
	}
	return nil
}

func (l *Host) GetrfBatched(h Handle, t dtype.Type, n int, a device.Ptr, lda int, pivots, info device.Ptr, batch int) error {
	const routine = "getrfBatched"
	stream, err := l.Stream(h)
	if err != nil {
		return err
	}
	if !t.Valid() || n < 0 || batch < 0 || lda < max(1, n) {
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
		pivRaw, err := l.rt.View(pivots, 4*batch*n)
		if err != nil {
			return fmt.Errorf("%w: %s: pivots: %w", ErrVendor, routine, err)
		}
		infoRaw, err := l.rt.View(info, 4*batch)
		if err != nil {
			return fmt.Errorf("%w: %s: info: %w", ErrVendor, routine, err)
		}
		piv := device.ViewAs[int32](pivRaw)
		infos := device.ViewAs[int32](infoRaw)
		for i := range batch {
			ipiv := piv[i*n : (i+1)*n]
			switch t {
			case dtype.F32:
				infos[i] = getrfReal(l.lapack, n, device.ViewAs[float32](as[i]), lda, ipiv)
			case dtype.F64:
				infos[i] = getrfReal(l.lapack, n, device.ViewAs[float64](as[i]), lda, ipiv)
			case dtype.C64:
				infos[i] = getrfComplex(n, device.ViewAs[complex64](as[i]), lda, ipiv)
			case dtype.C128:
				infos[i] = getrfComplex(n, device.ViewAs[complex128](as[i]), lda, ipiv)
			}
		}
		return nil
	})
}
