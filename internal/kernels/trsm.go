package kernels

import (
	"fmt"
	"math"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/descriptor"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"go.uber.org/zap"
)

// Batched triangular solve: trsmbatched
//
// Buffers:
//
//	0: A, batch × k × k with k = m for the left side and n for the right
//	1: B in, batch × m × n
//	2: B out, overwritten with the solution X
//	3: scratch for the A batch pointers
//	4: scratch for the B batch pointers

// TrsmBatchedDescriptor holds the static parameters of a batched triangular
// solve.
type TrsmBatchedDescriptor struct {
	Type  dtype.Type
	Batch int32
	M, N  int32
	Side  blas.Side
	Uplo  blas.Fill
	Trans blas.Operation
	Diag  blas.Diag
}

// BuildTrsmBatchedDescriptor encodes a batched triangular solve. It returns
// the size in bytes of each batch pointer scratch buffer and the opaque
// descriptor.
func BuildTrsmBatchedDescriptor(t dtype.Type, batch, m, n int, leftSide, lower, transA, conjA, unitDiagonal bool) (int, []byte, error) {
	if err := checkDims(t, batch, m, n); err != nil {
		return 0, nil, fmt.Errorf("trsm: %w", err)
	}
	if conjA && !transA {
		return 0, nil, fmt.Errorf("trsm: conjugation without transposition not supported")
	}
	d := TrsmBatchedDescriptor{
		Type:  t,
		Batch: int32(batch),
		M:     int32(m),
		N:     int32(n),
		Side:  blas.Right,
		Uplo:  blas.Upper,
		Trans: blas.NoTrans,
		Diag:  blas.NonUnit,
	}
	if leftSide {
		d.Side = blas.Left
	}
	if lower {
		d.Uplo = blas.Lower
	}
	if transA {
		d.Trans = blas.Trans
		if conjA {
			d.Trans = blas.ConjTrans
		}
	}
	if unitDiagonal {
		d.Diag = blas.Unit
	}
	opaque, err := descriptor.Pack(d)
	if err != nil {
		return 0, nil, err
	}
	return batch * device.PointerSize, opaque, nil
}

// TrsmBatched runs the batched triangular solve target.
func (k *Kernels) TrsmBatched(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
	d, err := descriptor.Unpack[TrsmBatchedDescriptor](opaque)
	if err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("trsm: %w: %s", dtype.ErrUnsupported, d.Type)
	}
	if err := checkBuffers(TrsmBatchedTarget, buffers, 5); err != nil {
		return err
	}
	batch, m, n := int(d.Batch), int(d.M), int(d.N)
	metrics.KernelCallBatchSize.WithLabelValues(TrsmBatchedTarget).Observe(float64(batch))
	k.logger.Debug("trsm batched",
		zap.Stringer("stream", stream), zap.Stringer("type", d.Type),
		zap.Int("batch", batch), zap.Int("m", m), zap.Int("n", n))

	h, err := k.blasHandles.Borrow(stream)
	if err != nil {
		return err
	}
	defer h.Return()

	size := d.Type.Size()
	if err := k.copyInput(stream, buffers[2], buffers[1], size*batch*m*n); err != nil {
		return err
	}
	lda := n
	if d.Side == blas.Left {
		lda = m
	}
	ldb := m
	err = k.stagePointers(stream, batch,
		pointerArray{base: buffers[0], dst: buffers[3], stride: size * lda * lda},
		pointerArray{base: buffers[2], dst: buffers[4], stride: size * m * n},
	)
	if err != nil {
		return err
	}

	switch d.Type {
	case dtype.F32, dtype.F64, dtype.C64, dtype.C128:
		return k.blas.TrsmBatched(h.Get(), d.Type, d.Side, d.Uplo, d.Trans, d.Diag,
			m, n, buffers[3], lda, buffers[4], ldb, batch)
	}
	return fmt.Errorf("trsm: %w: %s", dtype.ErrUnsupported, d.Type)
}

func checkDims(t dtype.Type, batch int, dims ...int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", dtype.ErrUnsupported, t)
	}
	if batch < 1 || batch > math.MaxInt32 {
		return fmt.Errorf("invalid batch size %d", batch)
	}
	for _, d := range dims {
		if d < 1 || d > math.MaxInt32 {
			return fmt.Errorf("invalid dimension %d", d)
		}
	}
	return nil
}
