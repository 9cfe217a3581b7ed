// Package backend selects the device runtime and vendor libraries the
// kernels run on.
package backend

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/solver"
	"go.uber.org/zap"
)

// Kind names a backend.
type Kind string

const (
	// KindAuto uses CUDA when it is compiled in and a device is present,
	// and falls back to the host backend otherwise.
	KindAuto Kind = "auto"
	KindHost Kind = "host"
	KindCUDA Kind = "cuda"
)

// Valid reports whether k is a known backend kind.
func (k Kind) Valid() bool {
	return k == KindAuto || k == KindHost || k == KindCUDA
}

// Backend bundles a runtime with the libraries that execute on it.
type Backend struct {
	Kind    Kind
	Runtime device.Runtime
	BLAS    blas.Library
	Solver  solver.Library
	// Host is set when Runtime is the in-process host device.
	Host *device.Host
}

// New creates the requested backend.
func New(kind Kind, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("backend")
	switch kind {
	case KindHost:
		return NewHost(logger), nil
	case KindCUDA:
		return newCUDA(logger)
	case KindAuto, "":
		b, err := newCUDA(logger)
		if err == nil {
			logger.Info("using CUDA backend")
			return b, nil
		}
		if !errors.Is(err, device.ErrUnavailable) {
			logger.Warn("CUDA backend failed, falling back to host", zap.Error(err))
		}
		logger.Info("using host backend (no GPU available)")
		return NewHost(logger), nil
	}
	return nil, fmt.Errorf("unknown backend kind %q", kind)
}

// NewHost creates the in-process host backend backed by gonum.
func NewHost(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := device.NewHost(logger)
	return &Backend{
		Kind:    KindHost,
		Runtime: rt,
		BLAS:    blas.NewHost(rt, logger),
		Solver:  solver.NewHost(rt, logger),
		Host:    rt,
	}
}
