// Package dtype maps caller element types onto the numeric types the
// kernels support.
package dtype

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the numeric type tag carried in descriptors.
type Type int32

const (
	F32 Type = iota
	F64
	C64
	C128
)

// All lists every supported type in tag order.
var All = []Type{F32, F64, C64, C128}

// ErrUnsupported is returned for element types with no kernel code path.
var ErrUnsupported = errors.New("unsupported dtype")

type kindSize struct {
	kind byte
	size int
}

var kinds = map[kindSize]Type{
	{'f', 4}:  F32,
	{'f', 8}:  F64,
	{'c', 8}:  C64,
	{'c', 16}: C128,
}

var names = map[string]Type{
	"float32":    F32,
	"float64":    F64,
	"complex64":  C64,
	"complex128": C128,
}

// FromKind maps an array-protocol kind character and item size (for
// example 'f', 4 for float32) to a Type.
func FromKind(kind byte, itemSize int) (Type, error) {
	t, ok := kinds[kindSize{kind, itemSize}]
	if !ok {
		return 0, fmt.Errorf("%w: kind %q itemsize %d", ErrUnsupported, kind, itemSize)
	}
	return t, nil
}

// Parse maps a dtype name such as "float32" or "complex128" to a Type.
func Parse(name string) (Type, error) {
	t, ok := names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	return t, nil
}

// Valid reports whether t is one of the supported tags.
func (t Type) Valid() bool {
	return t >= F32 && t <= C128
}

// Size returns the element size in bytes.
func (t Type) Size() int {
	switch t {
	case F32:
		return 4
	case F64:
		return 8
	case C64:
		return 8
	case C128:
		return 16
	}
	return 0
}

// Complex reports whether t is a complex type.
func (t Type) Complex() bool {
	return t == C64 || t == C128
}

func (t Type) String() string {
	switch t {
	case F32:
		return "float32"
	case F64:
		return "float64"
	case C64:
		return "complex64"
	case C128:
		return "complex128"
	}
	return fmt.Sprintf("Type(%d)", int32(t))
}
