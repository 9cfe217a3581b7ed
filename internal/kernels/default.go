package kernels

import (
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"go.uber.org/zap"
)

// The process-wide Kernels, and with it the handle pools, is built on first
// use and never torn down. Handles still pooled at exit are reclaimed by the
// driver when the process terminates.
var (
	defaultMu      sync.Mutex
	defaultKernels atomic.Pointer[Kernels]
)

// Default returns the process-wide Kernels, creating it from the best
// available backend on first use. A failed creation is retried by the next
// call.
func Default() (*Kernels, error) {
	if k := defaultKernels.Load(); k != nil {
		return k, nil
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if k := defaultKernels.Load(); k != nil {
		return k, nil
	}
	logger := zap.L()
	b, err := backend.New(backend.KindAuto, logger)
	if err != nil {
		return nil, err
	}
	k := New(b.Runtime, b.BLAS, b.Solver, StagingSynchronize, logger)
	defaultKernels.Store(k)
	return k, nil
}

// SetDefault installs k as the process-wide Kernels. It is meant to be
// called during startup, before any target from Registrations runs.
func SetDefault(k *Kernels) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultKernels.Store(k)
}

// Registrations returns the process-wide entry points by target name. The
// default Kernels is resolved on each call's first use, so building the
// map does not touch the device.
func Registrations() map[string]customcall.Target {
	targets := make(map[string]customcall.Target, len(methods))
	for name, m := range methods {
		targets[name] = customcall.Wrap(func(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
			k, err := Default()
			if err != nil {
				return err
			}
			return k.call(name, m, stream, buffers, opaque)
		})
	}
	return targets
}
