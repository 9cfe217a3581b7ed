package customcall

import (
	"errors"
	"testing"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	var s Status
	assert.True(t, s.OK())
	assert.Empty(t, s.Message())

	s.SetFailure("first")
	s.SetFailure("second")
	assert.False(t, s.OK())
	assert.Equal(t, "first", s.Message())

	var nilStatus *Status
	assert.True(t, nilStatus.OK())
	assert.NotPanics(t, func() { nilStatus.SetFailure("ignored") })
}

func TestWrap(t *testing.T) {
	t.Run("error is written to the sink", func(t *testing.T) {
		target := Wrap(func(device.Stream, []device.Ptr, []byte) error {
			return errors.New("boom")
		})
		var s Status
		target(device.DefaultStream, nil, nil, &s)
		assert.False(t, s.OK())
		assert.Equal(t, "boom", s.Message())
	})

	t.Run("success leaves the sink untouched", func(t *testing.T) {
		var gotStream device.Stream
		var gotBuffers []device.Ptr
		var gotOpaque []byte
		target := Wrap(func(stream device.Stream, buffers []device.Ptr, opaque []byte) error {
			gotStream, gotBuffers, gotOpaque = stream, buffers, opaque
			return nil
		})
		var s Status
		target(7, []device.Ptr{1, 2}, []byte{3}, &s)
		assert.True(t, s.OK())
		assert.Equal(t, device.Stream(7), gotStream)
		assert.Equal(t, []device.Ptr{1, 2}, gotBuffers)
		assert.Equal(t, []byte{3}, gotOpaque)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	calls := 0
	target := Wrap(func(device.Stream, []device.Ptr, []byte) error {
		calls++
		return nil
	})

	require.NoError(t, r.Register("b_target", target))
	require.NoError(t, r.Register("a_target", target))
	assert.Error(t, r.Register("a_target", target))
	assert.Error(t, r.Register("", target))
	assert.Error(t, r.Register("nil_target", nil))

	assert.Equal(t, []string{"a_target", "b_target"}, r.Names())

	_, ok := r.Lookup("a_target")
	assert.True(t, ok)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	status := r.Call("b_target", device.DefaultStream, nil, nil)
	assert.True(t, status.OK())
	assert.Equal(t, 1, calls)

	status = r.Call("missing", device.DefaultStream, nil, nil)
	assert.False(t, status.OK())
	assert.Contains(t, status.Message(), "unknown target")
}
