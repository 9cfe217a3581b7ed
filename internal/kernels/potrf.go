package kernels

import (
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/descriptor"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"go.uber.org/zap"
)

// Batched Cholesky decomposition: potrfbatched
//
// Buffers:
//
//	0: A in, batch × n × n
//	1: A out, the uplo triangle overwritten with the factor
//	2: info, batch int32
//	3: scratch for the A batch pointers

// PotrfBatchedDescriptor holds the static parameters of a batched Cholesky
// factorization.
type PotrfBatchedDescriptor struct {
	Type  dtype.Type
	Uplo  blas.Fill
	Batch int32
	N     int32
}

// BuildPotrfBatchedDescriptor encodes a batched Cholesky factorization.
func BuildPotrfBatchedDescriptor(t dtype.Type, lower bool, batch, n int) (int, []byte, error) {
	if err := checkDims(t, batch, n); err != nil {
		return 0, nil, fmt.Errorf("potrf: %w", err)
	}
	d := PotrfBatchedDescriptor{Type: t, Uplo: blas.Upper, Batch: int32(batch), N: int32(n)}
	if lower {
		d.Uplo = blas.Lower
	}
	opaque, err := descriptor.Pack(d)
	if err != nil {
		return 0, nil, err
	}
	return batch * device.PointerSize, opaque, nil
}

// PotrfBatched runs the batched Cholesky factorization target.
func (k *Kernels) PotrfBatched(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
	d, err := descriptor.Unpack[PotrfBatchedDescriptor](opaque)
	if err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("potrf: %w: %s", dtype.ErrUnsupported, d.Type)
	}
	if err := checkBuffers(PotrfBatchedTarget, buffers, 4); err != nil {
		return err
	}
	batch, n := int(d.Batch), int(d.N)
	metrics.KernelCallBatchSize.WithLabelValues(PotrfBatchedTarget).Observe(float64(batch))
	k.logger.Debug("potrf batched",
		zap.Stringer("stream", stream), zap.Stringer("type", d.Type),
		zap.Int("batch", batch), zap.Int("n", n))

	h, err := k.solverHandles.Borrow(stream)
	if err != nil {
		return err
	}
	defer h.Return()

	size := d.Type.Size()
	if err := k.copyInput(stream, buffers[1], buffers[0], size*batch*n*n); err != nil {
		return err
	}
	err = k.stagePointers(stream, batch,
		pointerArray{base: buffers[1], dst: buffers[3], stride: size * n * n},
	)
	if err != nil {
		return err
	}

	switch d.Type {
	case dtype.F32, dtype.F64, dtype.C64, dtype.C128:
		return k.solver.PotrfBatched(h.Get(), d.Type, d.Uplo, n, buffers[3], n, buffers[2], batch)
	}
	return fmt.Errorf("potrf: %w: %s", dtype.ErrUnsupported, d.Type)
}
