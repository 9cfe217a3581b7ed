// Package handlepool caches expensive vendor library handles per stream.
//
// A handle is checked out to exactly one caller at a time. Returned handles
// go to an idle list keyed by the stream they are currently bound to.
// Borrow prefers a handle already bound to the requested stream, takes an
// idle handle from another stream before creating a new one, and always
// rebinds the handle to the requested stream before handing it out.
//
// Handles are created while the pool mutex is held. Two callers borrowing
// for the same stream with an empty idle list are therefore serialized on
// creation rather than racing each other; creation is rare compared with
// steady-state reuse.
package handlepool

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"go.uber.org/zap"
)

// Funcs are the per-handle-kind operations a Pool needs.
type Funcs[H any, S comparable] struct {
	// Create makes a new unbound handle.
	Create func() (H, error)
	// SetStream binds h to stream.
	SetStream func(h H, stream S) error
	// Destroy releases a handle that can no longer be pooled.
	Destroy func(h H) error
}

// Pool is a thread-safe cache of handles of type H keyed by stream S.
type Pool[H any, S comparable] struct {
	name   string
	funcs  Funcs[H, S]
	logger *zap.Logger

	mu   sync.Mutex
	idle map[S][]H
	live int
}

// Stats describes the handles owned by a Pool.
type Stats struct {
	// Live is the number of handles created and not destroyed.
	Live int
	// Idle is the number of live handles not currently borrowed.
	Idle int
}

// New creates an empty pool. name labels log lines and metrics.
func New[H any, S comparable](name string, funcs Funcs[H, S], logger *zap.Logger) *Pool[H, S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[H, S]{
		name:   name,
		funcs:  funcs,
		logger: logger.Named("handlepool").With(zap.String("pool", name)),
		idle:   make(map[S][]H),
	}
}

// Borrow returns a handle bound to stream. The caller must call Return when
// done, typically with defer.
func (p *Pool[H, S]) Borrow(stream S) (*Handle[H, S], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var h H
	created := false
	if from, ok := p.idleStream(stream); ok {
		idle := p.idle[from]
		h = idle[len(idle)-1]
		if len(idle) == 1 {
			delete(p.idle, from)
		} else {
			p.idle[from] = idle[:len(idle)-1]
		}
		metrics.HandlePoolIdle.WithLabelValues(p.name).Dec()
	} else {
		var err error
		h, err = p.funcs.Create()
		if err != nil {
			metrics.HandlePoolErrors.WithLabelValues(p.name, "create").Inc()
			return nil, fmt.Errorf("%s: create handle: %w", p.name, err)
		}
		created = true
		p.live++
		metrics.HandlePoolCreated.WithLabelValues(p.name).Inc()
		p.logger.Debug("created handle", zap.Any("stream", stream), zap.Int("live", p.live))
	}

	if err := p.funcs.SetStream(h, stream); err != nil {
		// The binding state of h is unknown, so it is not pooled again.
		p.live--
		metrics.HandlePoolErrors.WithLabelValues(p.name, "set_stream").Inc()
		if derr := p.funcs.Destroy(h); derr != nil {
			p.logger.Warn("failed to destroy handle after rebind failure", zap.Error(derr))
		}
		p.logger.Warn("failed to bind handle to stream",
			zap.Any("stream", stream), zap.Bool("created", created), zap.Error(err))
		return nil, fmt.Errorf("%s: set stream: %w", p.name, err)
	}

	metrics.HandlePoolBorrows.WithLabelValues(p.name).Inc()
	return &Handle[H, S]{pool: p, h: h, stream: stream}, nil
}

// Stats returns a snapshot of the pool's bookkeeping.
func (p *Pool[H, S]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, hs := range p.idle {
		idle += len(hs)
	}
	return Stats{Live: p.live, Idle: idle}
}

// idleStream picks the idle list to take a handle from: the one for stream
// if it has any, otherwise any non-empty list. Empty lists are never kept
// in the map. Callers hold p.mu.
func (p *Pool[H, S]) idleStream(stream S) (S, bool) {
	if _, ok := p.idle[stream]; ok {
		return stream, true
	}
	for s := range p.idle {
		return s, true
	}
	return stream, false
}

func (p *Pool[H, S]) put(h H, stream S) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[stream] = append(p.idle[stream], h)
	metrics.HandlePoolIdle.WithLabelValues(p.name).Inc()
}

// Handle is a borrowed handle. It must not be used after Return.
type Handle[H any, S comparable] struct {
	pool     *Pool[H, S]
	h        H
	stream   S
	returned bool
}

// Get returns the underlying handle.
func (h *Handle[H, S]) Get() H {
	return h.h
}

// Stream returns the stream the handle is bound to.
func (h *Handle[H, S]) Stream() S {
	return h.stream
}

// Return gives the handle back to its pool. Only the first call has any
// effect.
func (h *Handle[H, S]) Return() {
	if h == nil || h.returned {
		return
	}
	h.returned = true
	h.pool.put(h.h, h.stream)
}
