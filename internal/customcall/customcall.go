// Package customcall defines the call boundary between a host graph runtime
// and natively implemented kernels: a named target receives a stream, a
// positional list of device buffers and an opaque descriptor, and reports
// failure by writing into a status sink rather than returning an error.
package customcall

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fxnlabs/linalg-kernels/internal/device"
)

// Status is the out-parameter a target writes a failure message into. A
// Status that was never written means success.
type Status struct {
	failed  bool
	message string
}

// SetFailure records a failure. Only the first failure is kept.
func (s *Status) SetFailure(message string) {
	if s == nil || s.failed {
		return
	}
	s.failed = true
	s.message = message
}

// OK reports whether no failure has been recorded.
func (s *Status) OK() bool {
	return s == nil || !s.failed
}

// Message returns the recorded failure message, or "" on success.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Target is a custom call entry point.
type Target func(stream device.Stream, buffers []device.Ptr, opaque []byte, status *Status)

// Func is the error-returning form of a Target used internally.
type Func func(stream device.Stream, buffers []device.Ptr, opaque []byte) error

// Wrap flattens fn's error into the status sink.
func Wrap(fn Func) Target {
	return func(stream device.Stream, buffers []device.Ptr, opaque []byte, status *Status) {
		if err := fn(stream, buffers, opaque); err != nil {
			status.SetFailure(err.Error())
		}
	}
}

// Registry maps stable target names to entry points.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register adds a target. Names must be unique.
func (r *Registry) Register(name string, target Target) error {
	if name == "" || target == nil {
		return fmt.Errorf("customcall: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[name]; ok {
		return fmt.Errorf("customcall: target %q already registered", name)
	}
	r.targets[name] = target
	return nil
}

// Lookup resolves a target by name.
func (r *Registry) Lookup(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named target and returns its status.
func (r *Registry) Call(name string, stream device.Stream, buffers []device.Ptr, opaque []byte) *Status {
	status := &Status{}
	target, ok := r.Lookup(name)
	if !ok {
		status.SetFailure(fmt.Sprintf("customcall: unknown target %q", name))
		return status
	}
	target(stream, buffers, opaque, status)
	return status
}
