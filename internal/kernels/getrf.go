package kernels

import (
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/descriptor"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"go.uber.org/zap"
)

// Batched LU decomposition: getrfbatched
//
// Buffers:
//
//	0: A in, batch × n × n
//	1: A out, overwritten with the L and U factors
//	2: pivots, batch × n int32, one-based
//	3: info, batch int32
//	4: scratch for the A batch pointers

// GetrfBatchedDescriptor holds the static parameters of a batched LU
// factorization.
type GetrfBatchedDescriptor struct {
	Type  dtype.Type
	Batch int32
	N     int32
}

// BuildGetrfBatchedDescriptor encodes a batched LU factorization.
func BuildGetrfBatchedDescriptor(t dtype.Type, batch, n int) (int, []byte, error) {
	if err := checkDims(t, batch, n); err != nil {
		return 0, nil, fmt.Errorf("getrf: %w", err)
	}
	opaque, err := descriptor.Pack(GetrfBatchedDescriptor{Type: t, Batch: int32(batch), N: int32(n)})
	if err != nil {
		return 0, nil, err
	}
	return batch * device.PointerSize, opaque, nil
}

// GetrfBatched runs the batched LU factorization target.
func (k *Kernels) GetrfBatched(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
	d, err := descriptor.Unpack[GetrfBatchedDescriptor](opaque)
	if err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("getrf: %w: %s", dtype.ErrUnsupported, d.Type)
	}
	if err := checkBuffers(GetrfBatchedTarget, buffers, 5); err != nil {
		return err
	}
	batch, n := int(d.Batch), int(d.N)
	metrics.KernelCallBatchSize.WithLabelValues(GetrfBatchedTarget).Observe(float64(batch))
	k.logger.Debug("getrf batched",
		zap.Stringer("stream", stream), zap.Stringer("type", d.Type),
		zap.Int("batch", batch), zap.Int("n", n))

	h, err := k.blasHandles.Borrow(stream)
	if err != nil {
		return err
	}
	defer h.Return()

	size := d.Type.Size()
	if err := k.copyInput(stream, buffers[1], buffers[0], size*batch*n*n); err != nil {
		return err
	}
	err = k.stagePointers(stream, batch,
		pointerArray{base: buffers[1], dst: buffers[4], stride: size * n * n},
	)
	if err != nil {
		return err
	}

	switch d.Type {
	case dtype.F32, dtype.F64, dtype.C64, dtype.C128:
		return k.blas.GetrfBatched(h.Get(), d.Type, n, buffers[4], n, buffers[2], buffers[3], batch)
	}
	return fmt.Errorf("getrf: %w: %s", dtype.ErrUnsupported, d.Type)
}
