// Package kernels implements the batched linear-algebra custom call
// targets.
//
// Every target follows the same sequence: decode the descriptor, borrow a
// library handle for the call's stream, copy the input into the output
// buffer unless they alias, stage the batch pointer arrays, make the
// staging memory safe to release, and invoke the vendor routine for the
// descriptor's numeric type. Per-matrix numerical failures are written to
// the caller's info buffer and do not fail the call.
package kernels

import (
	"fmt"
	"time"

	"github.com/fxnlabs/linalg-kernels/internal/batchptr"
	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/descriptor"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/handlepool"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"github.com/fxnlabs/linalg-kernels/internal/solver"
	"go.uber.org/zap"
)

// Stable target names.
const (
	TrsmBatchedTarget  = "cublas_trsm_batched"
	GetrfBatchedTarget = "cublas_getrf_batched"
	PotrfBatchedTarget = "cusolver_potrf_batched"
)

// StagingPolicy decides how batch pointer staging memory outlives its copy.
type StagingPolicy string

const (
	// StagingSynchronize blocks on the stream after staging and then frees
	// the host memory.
	StagingSynchronize StagingPolicy = "synchronize"
	// StagingDeferred enqueues the release as a host callback behind the
	// copies, so the call never blocks on the device.
	StagingDeferred StagingPolicy = "deferred"
)

// Valid reports whether p is a known policy.
func (p StagingPolicy) Valid() bool {
	return p == StagingSynchronize || p == StagingDeferred
}

// Kernels executes custom calls against one runtime and its libraries.
type Kernels struct {
	rt      device.Runtime
	blas    blas.Library
	solver  solver.Library
	staging StagingPolicy
	logger  *zap.Logger

	blasHandles   *handlepool.Pool[blas.Handle, device.Stream]
	solverHandles *handlepool.Pool[solver.Handle, device.Stream]
}

// New creates Kernels with one handle pool per library.
func New(rt device.Runtime, bl blas.Library, sl solver.Library, staging StagingPolicy, logger *zap.Logger) *Kernels {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !staging.Valid() {
		staging = StagingSynchronize
	}
	logger = logger.Named("kernels")
	return &Kernels{
		rt:      rt,
		blas:    bl,
		solver:  sl,
		staging: staging,
		logger:  logger,
		blasHandles: handlepool.New("blas", handlepool.Funcs[blas.Handle, device.Stream]{
			Create:    bl.Create,
			SetStream: bl.SetStream,
			Destroy:   bl.Destroy,
		}, logger),
		solverHandles: handlepool.New("solver", handlepool.Funcs[solver.Handle, device.Stream]{
			Create:    sl.Create,
			SetStream: sl.SetStream,
			Destroy:   sl.Destroy,
		}, logger),
	}
}

// Runtime returns the device runtime the kernels issue work to.
func (k *Kernels) Runtime() device.Runtime {
	return k.rt
}

// HandleStats reports the bookkeeping of both handle pools.
func (k *Kernels) HandleStats() (blasStats, solverStats handlepool.Stats) {
	return k.blasHandles.Stats(), k.solverHandles.Stats()
}

type method func(k *Kernels, stream device.Stream, buffers []device.Ptr, opaque []byte) error

var methods = map[string]method{
	TrsmBatchedTarget:  (*Kernels).TrsmBatched,
	GetrfBatchedTarget: (*Kernels).GetrfBatched,
	PotrfBatchedTarget: (*Kernels).PotrfBatched,
}

// Targets returns the custom call entry points bound to k.
func (k *Kernels) Targets() map[string]customcall.Target {
	targets := make(map[string]customcall.Target, len(methods))
	for name, m := range methods {
		targets[name] = customcall.Wrap(func(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
			return k.call(name, m, stream, buffers, opaque)
		})
	}
	return targets
}

// Register adds k's targets to r.
func (k *Kernels) Register(r *customcall.Registry) error {
	for name, target := range k.Targets() {
		if err := r.Register(name, target); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernels) call(name string, m method, stream device.Stream, buffers []device.Ptr, opaque []byte) error {
	start := time.Now()
	err := m(k, stream, buffers, opaque)
	metrics.KernelCallDuration.WithLabelValues(name).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.KernelCalls.WithLabelValues(name, "error").Inc()
		k.logger.Debug("custom call failed", zap.String("target", name), zap.Stringer("stream", stream), zap.Error(err))
		return err
	}
	metrics.KernelCalls.WithLabelValues(name, "ok").Inc()
	return nil
}

func checkBuffers(target string, buffers []device.Ptr, want int) error {
	if len(buffers) < want {
		return fmt.Errorf("%s: expected %d buffers, got %d", target, want, len(buffers))
	}
	return nil
}

// copyInput enqueues a copy of src into dst unless they are the same
// buffer, in which case the operation already runs in place.
func (k *Kernels) copyInput(stream device.Stream, dst, src device.Ptr, size int) error {
	if dst == src {
		return nil
	}
	if err := k.rt.MemcpyDtoDAsync(stream, dst, src, size); err != nil {
		return fmt.Errorf("copy input: %w", err)
	}
	metrics.DeviceCopies.WithLabelValues("dtod").Inc()
	return nil
}

type pointerArray struct {
	base   device.Ptr
	dst    device.Ptr
	stride int
}

// stagePointers builds every batch pointer array for a call and then makes
// the staging memory safe to release according to the staging policy.
func (k *Kernels) stagePointers(stream device.Stream, batch int, arrays ...pointerArray) error {
	staged := make([]*batchptr.Staging, 0, len(arrays))
	for _, a := range arrays {
		s, err := batchptr.Build(k.rt, stream, a.base, a.dst, batch, a.stride)
		if err != nil {
			// Copies of earlier arrays may still be pending.
			k.releaseAfterSync(stream, staged)
			return err
		}
		staged = append(staged, s)
	}

	if k.staging == StagingDeferred {
		for i, s := range staged {
			if err := s.ReleaseOnStream(k.rt, stream); err != nil {
				k.logger.Warn("deferred staging release failed, synchronizing", zap.Error(err))
				return k.releaseAfterSync(stream, staged[i:])
			}
		}
		return nil
	}
	return k.releaseAfterSync(stream, staged)
}

// releaseAfterSync waits for the stream and frees staged. If the stream
// cannot be synchronized the copies may still be in flight, so the memory
// is leaked rather than freed.
func (k *Kernels) releaseAfterSync(stream device.Stream, staged []*batchptr.Staging) error {
	if err := k.rt.Synchronize(stream); err != nil {
		k.logger.Warn("leaking batch pointer staging memory", zap.Int("arrays", len(staged)), zap.Error(err))
		return fmt.Errorf("synchronize %s: %w", stream, err)
	}
	for _, s := range staged {
		s.Release()
	}
	return nil
}

// TargetInfo describes the calling convention of a target.
type TargetInfo struct {
	Name           string   `json:"name"`
	Library        string   `json:"library"`
	Buffers        []string `json:"buffers"`
	DescriptorSize int      `json:"descriptorSize"`
}

// Describe lists every target sorted by name.
func Describe() []TargetInfo {
	return []TargetInfo{
		{
			Name:           GetrfBatchedTarget,
			Library:        "blas",
			Buffers:        []string{"a", "a_out", "pivots", "info", "a_ptrs"},
			DescriptorSize: descriptor.Size[GetrfBatchedDescriptor](),
		},
		{
			Name:           TrsmBatchedTarget,
			Library:        "blas",
			Buffers:        []string{"a", "b", "b_out", "a_ptrs", "b_ptrs"},
			DescriptorSize: descriptor.Size[TrsmBatchedDescriptor](),
		},
		{
			Name:           PotrfBatchedTarget,
			Library:        "solver",
			Buffers:        []string{"a", "a_out", "info", "a_ptrs"},
			DescriptorSize: descriptor.Size[PotrfBatchedDescriptor](),
		},
	}
}
