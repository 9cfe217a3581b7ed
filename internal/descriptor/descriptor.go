// Package descriptor packs fixed-layout parameter records into the opaque
// byte strings carried by custom calls.
//
// Encoding and decoding always happen in the same build, so records are
// written in native byte order with no framing. T must be a struct (or
// other value) made only of fixed-size fields.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSizeMismatch is returned by Unpack when the opaque length does not
// equal the record size.
var ErrSizeMismatch = errors.New("invalid size for operation descriptor")

// Size returns the encoded size of T in bytes, or -1 if T is not a
// fixed-size type.
func Size[T any]() int {
	var v T
	return binary.Size(v)
}

// Pack encodes v.
func Pack[T any](v T) ([]byte, error) {
	b, err := binary.Append(nil, binary.NativeEndian, v)
	if err != nil {
		return nil, fmt.Errorf("pack %T: %w", v, err)
	}
	return b, nil
}

// Unpack decodes an opaque string produced by Pack[T].
func Unpack[T any](opaque []byte) (T, error) {
	var v T
	size := binary.Size(v)
	if size < 0 {
		return v, fmt.Errorf("unpack %T: not a fixed-size type", v)
	}
	if len(opaque) != size {
		return v, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, size, len(opaque))
	}
	if _, err := binary.Decode(opaque, binary.NativeEndian, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("unpack %T: %w", v, err)
	}
	return v, nil
}
