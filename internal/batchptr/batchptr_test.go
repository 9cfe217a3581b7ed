package batchptr

import (
	"testing"

	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Run("addresses on host and device", func(t *testing.T) {
		rt := device.NewHost(nil)
		stream := rt.NewStream()
		base, err := rt.Malloc(4 * 64)
		require.NoError(t, err)
		dst, err := rt.Malloc(4 * device.PointerSize)
		require.NoError(t, err)

		staging, err := Build(rt, stream, base, dst, 4, 64)
		require.NoError(t, err)

		want := []device.Ptr{base, base + 64, base + 128, base + 192}
		assert.Equal(t, want, staging.Pointers())

		// The copy is only enqueued; the device array is untouched until
		// the stream runs.
		before, err := rt.ReadPointers(dst, 4)
		require.NoError(t, err)
		assert.Equal(t, []device.Ptr{0, 0, 0, 0}, before)
		assert.Equal(t, 1, rt.Pending(stream))

		require.NoError(t, rt.Synchronize(stream))
		staging.Release()

		got, err := rt.ReadPointers(dst, 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("single element", func(t *testing.T) {
		rt := device.NewHost(nil)
		base, err := rt.Malloc(16)
		require.NoError(t, err)
		dst, err := rt.Malloc(device.PointerSize)
		require.NoError(t, err)

		staging, err := Build(rt, device.DefaultStream, base, dst, 1, 16)
		require.NoError(t, err)
		require.NoError(t, rt.Synchronize(device.DefaultStream))
		staging.Release()

		got, err := rt.ReadPointers(dst, 1)
		require.NoError(t, err)
		assert.Equal(t, []device.Ptr{base}, got)
	})

	t.Run("deferred release", func(t *testing.T) {
		rt := device.NewHost(nil)
		stream := rt.NewStream()
		base, err := rt.Malloc(3 * 32)
		require.NoError(t, err)
		dst, err := rt.Malloc(3 * device.PointerSize)
		require.NoError(t, err)

		staging, err := Build(rt, stream, base, dst, 3, 32)
		require.NoError(t, err)
		require.NoError(t, staging.ReleaseOnStream(rt, stream))
		assert.False(t, staging.buf.Freed())

		require.NoError(t, rt.Synchronize(stream))
		assert.True(t, staging.buf.Freed())
		assert.Equal(t, int64(1), rt.Stats().HostFuncs)

		got, err := rt.ReadPointers(dst, 3)
		require.NoError(t, err)
		assert.Equal(t, []device.Ptr{base, base + 32, base + 64}, got)
	})

	t.Run("premature release corrupts the copy", func(t *testing.T) {
		rt := device.NewHost(nil)
		stream := rt.NewStream()
		base, err := rt.Malloc(2 * 8)
		require.NoError(t, err)
		dst, err := rt.Malloc(2 * device.PointerSize)
		require.NoError(t, err)

		staging, err := Build(rt, stream, base, dst, 2, 8)
		require.NoError(t, err)
		staging.Release()
		require.NoError(t, rt.Synchronize(stream))

		got, err := rt.ReadPointers(dst, 2)
		require.NoError(t, err)
		assert.NotEqual(t, []device.Ptr{base, base + 8}, got)
	})

	t.Run("destination too small", func(t *testing.T) {
		rt := device.NewHost(nil)
		base, err := rt.Malloc(4 * 64)
		require.NoError(t, err)
		dst, err := rt.Malloc(2 * device.PointerSize)
		require.NoError(t, err)

		staging, err := Build(rt, device.DefaultStream, base, dst, 4, 64)
		require.ErrorIs(t, err, device.ErrInvalidPointer)
		assert.Nil(t, staging)
		assert.Equal(t, 0, rt.Pending(device.DefaultStream))
	})

	t.Run("unknown destination", func(t *testing.T) {
		rt := device.NewHost(nil)
		_, err := Build(rt, device.DefaultStream, 0x1000, 0xdead, 2, 8)
		require.ErrorIs(t, err, device.ErrInvalidPointer)
	})

	t.Run("unknown stream", func(t *testing.T) {
		rt := device.NewHost(nil)
		dst, err := rt.Malloc(device.PointerSize)
		require.NoError(t, err)
		_, err = Build(rt, device.Stream(42), 0x1000, dst, 1, 8)
		require.ErrorIs(t, err, device.ErrInvalidStream)
	})

	t.Run("invalid batch", func(t *testing.T) {
		rt := device.NewHost(nil)
		_, err := Build(rt, device.DefaultStream, 0x1000, 0x2000, 0, 8)
		assert.Error(t, err)
	})
}
