package handlepool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeLibrary records handle creation and stream bindings.
type fakeLibrary struct {
	mu           sync.Mutex
	next         int
	bound        map[int]string
	destroyed    []int
	failCreate   error
	failBindOnce error
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{bound: make(map[int]string)}
}

func (f *fakeLibrary) funcs() Funcs[int, string] {
	return Funcs[int, string]{
		Create: func() (int, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failCreate != nil {
				return 0, f.failCreate
			}
			f.next++
			f.bound[f.next] = ""
			return f.next, nil
		},
		SetStream: func(h int, stream string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failBindOnce != nil {
				err := f.failBindOnce
				f.failBindOnce = nil
				return err
			}
			f.bound[h] = stream
			return nil
		},
		Destroy: func(h int) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.bound, h)
			f.destroyed = append(f.destroyed, h)
			return nil
		},
	}
}

func (f *fakeLibrary) binding(h int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound[h]
}

func (f *fakeLibrary) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func TestPool_Reuse(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	h1, err := pool.Borrow("s1")
	require.NoError(t, err)
	first := h1.Get()
	h1.Return()

	h2, err := pool.Borrow("s1")
	require.NoError(t, err)
	assert.Equal(t, first, h2.Get())
	assert.Equal(t, 1, lib.created())

	// While h2 is out a second borrow on the same stream needs a new handle.
	h3, err := pool.Borrow("s1")
	require.NoError(t, err)
	assert.NotEqual(t, h2.Get(), h3.Get())
	assert.Equal(t, Stats{Live: 2, Idle: 0}, pool.Stats())

	h2.Return()
	h3.Return()
	assert.Equal(t, Stats{Live: 2, Idle: 2}, pool.Stats())
}

func TestPool_ReturnIsIdempotent(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	h, err := pool.Borrow("s1")
	require.NoError(t, err)
	h.Return()
	h.Return()
	assert.Equal(t, Stats{Live: 1, Idle: 1}, pool.Stats())

	var nilHandle *Handle[int, string]
	assert.NotPanics(t, nilHandle.Return)
}

func TestPool_Rebind(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	h, err := pool.Borrow("s1")
	require.NoError(t, err)
	id := h.Get()
	assert.Equal(t, "s1", lib.binding(id))
	h.Return()

	h, err = pool.Borrow("s2")
	require.NoError(t, err)
	assert.Equal(t, id, h.Get(), "idle handle from another stream is reused")
	assert.Equal(t, "s2", h.Stream())
	assert.Equal(t, "s2", lib.binding(id))
	assert.Equal(t, 1, lib.created())
	h.Return()

	// The handle is now idle under s2 and is rebound again for the zero
	// stream.
	h, err = pool.Borrow("")
	require.NoError(t, err)
	assert.Equal(t, id, h.Get())
	assert.Equal(t, "", lib.binding(id))
	h.Return()
}

func TestPool_PrefersHandleForSameStream(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	a, err := pool.Borrow("a")
	require.NoError(t, err)
	b, err := pool.Borrow("b")
	require.NoError(t, err)
	aID, bID := a.Get(), b.Get()
	a.Return()
	b.Return()

	for i := 0; i < 10; i++ {
		h, err := pool.Borrow("b")
		require.NoError(t, err)
		assert.Equal(t, bID, h.Get())
		h.Return()
	}
	h, err := pool.Borrow("a")
	require.NoError(t, err)
	assert.Equal(t, aID, h.Get())
	h.Return()
}

func TestPool_CreateFailure(t *testing.T) {
	lib := newFakeLibrary()
	lib.failCreate = errors.New("out of memory")
	pool := New("test", lib.funcs(), nil)

	h, err := pool.Borrow("s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Nil(t, h)
	assert.Equal(t, Stats{}, pool.Stats())

	lib.failCreate = nil
	h, err = pool.Borrow("s1")
	require.NoError(t, err)
	h.Return()
	assert.Equal(t, Stats{Live: 1, Idle: 1}, pool.Stats())
}

func TestPool_SetStreamFailure(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	h, err := pool.Borrow("s1")
	require.NoError(t, err)
	id := h.Get()
	h.Return()

	lib.failBindOnce = errors.New("bad stream")
	_, err = pool.Borrow("s2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad stream")
	assert.Equal(t, []int{id}, lib.destroyed)
	assert.Equal(t, Stats{}, pool.Stats())

	h, err = pool.Borrow("s2")
	require.NoError(t, err)
	assert.NotEqual(t, id, h.Get())
	h.Return()
}

func TestPool_ConcurrentBorrowsBoundLiveHandles(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)

	const workers = 8
	const iterations = 200
	var outstanding, maxOutstanding atomic.Int64
	streams := []string{"s1", "s2"}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		stream := streams[w%len(streams)]
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				n := outstanding.Add(1)
				for {
					m := maxOutstanding.Load()
					if n <= m || maxOutstanding.CompareAndSwap(m, n) {
						break
					}
				}
				h, err := pool.Borrow(stream)
				if err != nil {
					return err
				}
				if got := lib.binding(h.Get()); got != stream {
					return errors.New("handle bound to " + got + ", want " + stream)
				}
				h.Return()
				outstanding.Add(-1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stats := pool.Stats()
	assert.LessOrEqual(t, int64(stats.Live), maxOutstanding.Load())
	assert.LessOrEqual(t, stats.Live, workers)
	assert.Equal(t, stats.Live, stats.Idle)
	assert.Equal(t, stats.Live, lib.created())
}

func TestPool_SequentialBorrowsCreateOneHandle(t *testing.T) {
	lib := newFakeLibrary()
	pool := New("test", lib.funcs(), nil)
	for i := 0; i < 100; i++ {
		h, err := pool.Borrow("s1")
		require.NoError(t, err)
		h.Return()
	}
	assert.Equal(t, 1, lib.created())
}
