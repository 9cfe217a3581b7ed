package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/device"
	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// trsmRHS is the number of right hand sides solved per trsm matrix.
const trsmRHS = 2

func selftestCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Run every target concurrently on several streams and check the results",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "streams", Usage: "Concurrent streams (default selftest.streams)"},
			&cli.IntFlag{Name: "batch", Usage: "Matrices per call (default selftest.batch)"},
			&cli.IntFlag{Name: "n", Usage: "Matrix order (default selftest.n)"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Random seed"},
		},
		Action: func(c *cli.Context) error {
			streams, batch, n := e.cfg.Selftest.Streams, e.cfg.Selftest.Batch, e.cfg.Selftest.N
			if c.IsSet("streams") {
				streams = c.Int("streams")
			}
			if c.IsSet("batch") {
				batch = c.Int("batch")
			}
			if c.IsSet("n") {
				n = c.Int("n")
			}
			if streams < 1 || batch < 1 || n < 1 {
				return errors.New("streams, batch and n must be positive")
			}

			b, k, err := e.kernels()
			if err != nil {
				return err
			}
			if b.Host == nil {
				return fmt.Errorf("selftest needs the host backend, got %s", b.Kind)
			}
			r := customcall.NewRegistry()
			if err := k.Register(r); err != nil {
				return err
			}

			log := e.log.Named("selftest")
			log.Info("running self test",
				zap.Int("streams", streams), zap.Int("batch", batch), zap.Int("n", n),
				zap.String("staging", string(e.cfg.Backend.Staging)))
			checks, err := runSelftest(c.Context, b.Host, r, streams, batch, n, c.Uint64("seed"))
			if err != nil {
				return err
			}

			failed := 0
			data := make([][]string, 0, len(checks))
			for _, ch := range checks {
				status := "ok"
				if !ch.passed() {
					status = "FAIL"
					failed++
				}
				data = append(data, []string{
					ch.stream.String(),
					ch.target,
					strconv.Itoa(ch.batch),
					strconv.Itoa(ch.n),
					strconv.FormatFloat(ch.maxErr, 'e', 2, 64),
					strconv.Itoa(ch.nonzeroInfo),
					ch.elapsed.Round(time.Microsecond).String(),
					status,
				})
			}
			table := tablewriter.NewWriter(c.App.Writer)
			table.SetHeader([]string{"STREAM", "TARGET", "BATCH", "N", "MAX ERROR", "INFO", "TIME", "STATUS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			blasStats, solverStats := k.HandleStats()
			log.Info("self test finished",
				zap.Int("checks", len(checks)), zap.Int("failed", failed),
				zap.Int("blasHandles", blasStats.Live), zap.Int("solverHandles", solverStats.Live))
			if failed > 0 {
				return fmt.Errorf("selftest: %d of %d checks failed", failed, len(checks))
			}
			return nil
		},
	}
}

// check is the outcome of one target call on one stream.
type check struct {
	stream      device.Stream
	target      string
	batch, n    int
	maxErr      float64
	nonzeroInfo int
	elapsed     time.Duration
}

func (c check) passed() bool {
	return c.nonzeroInfo == 0 && c.maxErr <= 1e-9*float64(c.n)
}

func (c *check) observe(err float64) {
	if err > c.maxErr || math.IsNaN(err) {
		c.maxErr = err
	}
}

// runSelftest drives every target on its own stream per goroutine. Results
// are ordered by stream, then target.
func runSelftest(ctx context.Context, rt *device.Host, r *customcall.Registry, streams, batch, n int, seed uint64) ([]check, error) {
	perStream := make([][]check, streams)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < streams; i++ {
		s := &selftest{
			rt:     rt,
			r:      r,
			stream: rt.NewStream(),
			rng:    rand.New(rand.NewPCG(seed, uint64(i))),
			batch:  batch,
			n:      n,
		}
		g.Go(func() error {
			defer s.freeAll()
			for _, run := range []func() (check, error){s.getrf, s.trsm, s.potrf} {
				if err := ctx.Err(); err != nil {
					return err
				}
				c, err := run()
				if err != nil {
					return err
				}
				perStream[i] = append(perStream[i], c)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var checks []check
	for _, cs := range perStream {
		checks = append(checks, cs...)
	}
	return checks, nil
}

type selftest struct {
	rt       *device.Host
	r        *customcall.Registry
	stream   device.Stream
	rng      *rand.Rand
	batch, n int
	allocs   []device.Ptr
}

func (s *selftest) getrf() (check, error) {
	defer s.freeAll()
	n, batch := s.n, s.batch
	c := check{stream: s.stream, target: kernels.GetrfBatchedTarget, batch: batch, n: n}
	a := s.random(batch * n * n)

	lwork, opaque, err := kernels.BuildGetrfBatchedDescriptor(dtype.F64, batch, n)
	if err != nil {
		return c, err
	}
	buffers, err := s.buffers(a, 8*len(a), 4*batch*n, 4*batch, lwork)
	if err != nil {
		return c, err
	}
	start := time.Now()
	if err := s.call(kernels.GetrfBatchedTarget, buffers, opaque); err != nil {
		return c, err
	}
	c.elapsed = time.Since(start)

	lu, err := s.floats(buffers[1], len(a))
	if err != nil {
		return c, err
	}
	pivots, err := s.ints(buffers[2], batch*n)
	if err != nil {
		return c, err
	}
	infos, err := s.ints(buffers[3], batch)
	if err != nil {
		return c, err
	}
	for i := 0; i < batch; i++ {
		c.countInfo(infos[i])
		pa := colMajor(n, n, a[i*n*n:])
		for k, p := range pivots[i*n : (i+1)*n] {
			swapRows(pa, k, int(p)-1)
		}
		factors := colMajor(n, n, lu[i*n*n:])
		l, u := mat.NewDense(n, n, nil), mat.NewDense(n, n, nil)
		for row := 0; row < n; row++ {
			for col := 0; col < n; col++ {
				switch {
				case row > col:
					l.Set(row, col, factors.At(row, col))
				case row == col:
					l.Set(row, col, 1)
					u.Set(row, col, factors.At(row, col))
				default:
					u.Set(row, col, factors.At(row, col))
				}
			}
		}
		var prod mat.Dense
		prod.Mul(l, u)
		c.observe(maxAbsDiff(&prod, pa))
	}
	return c, nil
}

func (s *selftest) trsm() (check, error) {
	defer s.freeAll()
	n, batch := s.n, s.batch
	c := check{stream: s.stream, target: kernels.TrsmBatchedTarget, batch: batch, n: n}

	// Diagonally dominant lower triangular systems with known solutions.
	var as, xs, bs []float64
	for i := 0; i < batch; i++ {
		a := mat.NewDense(n, n, nil)
		for row := 0; row < n; row++ {
			for col := 0; col < row; col++ {
				a.Set(row, col, s.uniform())
			}
			a.Set(row, row, float64(n)+s.uniform())
		}
		x := mat.NewDense(n, trsmRHS, s.random(n*trsmRHS))
		var b mat.Dense
		b.Mul(a, x)
		as = append(as, toColMajor(a)...)
		xs = append(xs, toColMajor(x)...)
		bs = append(bs, toColMajor(&b)...)
	}

	lwork, opaque, err := kernels.BuildTrsmBatchedDescriptor(dtype.F64, batch, n, trsmRHS, true, true, false, false, false)
	if err != nil {
		return c, err
	}
	a, err := s.upload(as)
	if err != nil {
		return c, err
	}
	buffers, err := s.buffers(bs, 8*len(bs), lwork, lwork)
	if err != nil {
		return c, err
	}
	buffers = append([]device.Ptr{a}, buffers...)
	start := time.Now()
	if err := s.call(kernels.TrsmBatchedTarget, buffers, opaque); err != nil {
		return c, err
	}
	c.elapsed = time.Since(start)

	got, err := s.floats(buffers[2], len(xs))
	if err != nil {
		return c, err
	}
	for i := range xs {
		c.observe(math.Abs(got[i] - xs[i]))
	}
	return c, nil
}

func (s *selftest) potrf() (check, error) {
	defer s.freeAll()
	n, batch := s.n, s.batch
	c := check{stream: s.stream, target: kernels.PotrfBatchedTarget, batch: batch, n: n}

	// M M^T + n I is symmetric positive definite.
	var as []float64
	for i := 0; i < batch; i++ {
		m := mat.NewDense(n, n, s.random(n*n))
		var a mat.Dense
		a.Mul(m, m.T())
		for d := 0; d < n; d++ {
			a.Set(d, d, a.At(d, d)+float64(n))
		}
		as = append(as, toColMajor(&a)...)
	}

	lwork, opaque, err := kernels.BuildPotrfBatchedDescriptor(dtype.F64, true, batch, n)
	if err != nil {
		return c, err
	}
	buffers, err := s.buffers(as, 8*len(as), 4*batch, lwork)
	if err != nil {
		return c, err
	}
	start := time.Now()
	if err := s.call(kernels.PotrfBatchedTarget, buffers, opaque); err != nil {
		return c, err
	}
	c.elapsed = time.Since(start)

	factors, err := s.floats(buffers[1], len(as))
	if err != nil {
		return c, err
	}
	infos, err := s.ints(buffers[2], batch)
	if err != nil {
		return c, err
	}
	for i := 0; i < batch; i++ {
		c.countInfo(infos[i])
		f := colMajor(n, n, factors[i*n*n:])
		l := mat.NewDense(n, n, nil)
		for row := 0; row < n; row++ {
			for col := 0; col <= row; col++ {
				l.Set(row, col, f.At(row, col))
			}
		}
		var prod mat.Dense
		prod.Mul(l, l.T())
		c.observe(maxAbsDiff(&prod, colMajor(n, n, as[i*n*n:])))
	}
	return c, nil
}

func (c *check) countInfo(info int32) {
	if info != 0 {
		c.nonzeroInfo++
	}
}

// call runs target on the stream and waits for it.
func (s *selftest) call(target string, buffers []device.Ptr, opaque []byte) error {
	status := s.r.Call(target, s.stream, buffers, opaque)
	if !status.OK() {
		return fmt.Errorf("%s on %s: %s", target, s.stream, status.Message())
	}
	return s.rt.Synchronize(s.stream)
}

// buffers uploads input and allocates zeroed buffers of the given sizes
// after it.
func (s *selftest) buffers(input []float64, sizes ...int) ([]device.Ptr, error) {
	in, err := s.upload(input)
	if err != nil {
		return nil, err
	}
	out := []device.Ptr{in}
	for _, size := range sizes {
		p, err := s.alloc(size)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *selftest) alloc(size int) (device.Ptr, error) {
	p, err := s.rt.Malloc(size)
	if err != nil {
		return 0, err
	}
	s.allocs = append(s.allocs, p)
	return p, nil
}

func (s *selftest) upload(vals []float64) (device.Ptr, error) {
	p, err := s.alloc(8 * len(vals))
	if err != nil {
		return 0, err
	}
	raw, err := s.rt.View(p, 8*len(vals))
	if err != nil {
		return 0, err
	}
	copy(device.ViewAs[float64](raw), vals)
	return p, nil
}

func (s *selftest) floats(p device.Ptr, count int) ([]float64, error) {
	raw, err := s.rt.Read(p, 8*count)
	if err != nil {
		return nil, err
	}
	return device.ViewAs[float64](raw), nil
}

func (s *selftest) ints(p device.Ptr, count int) ([]int32, error) {
	raw, err := s.rt.Read(p, 4*count)
	if err != nil {
		return nil, err
	}
	return device.ViewAs[int32](raw), nil
}

func (s *selftest) freeAll() {
	for _, p := range s.allocs {
		_ = s.rt.Free(p)
	}
	s.allocs = s.allocs[:0]
}

func (s *selftest) uniform() float64 {
	return 2*s.rng.Float64() - 1
}

func (s *selftest) random(count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = s.uniform()
	}
	return out
}

func colMajor(rows, cols int, data []float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			m.Set(i, j, data[i+j*rows])
		}
	}
	return m
}

func toColMajor(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func swapRows(m *mat.Dense, i, j int) {
	if i == j {
		return
	}
	ri, rj := m.RawRowView(i), m.RawRowView(j)
	for k := range ri {
		ri[k], rj[k] = rj[k], ri[k]
	}
}

func maxAbsDiff(a, b mat.Matrix) float64 {
	var d mat.Dense
	d.Sub(a, b)
	rows, cols := d.Dims()
	worst := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := math.Abs(d.At(i, j)); v > worst || math.IsNaN(v) {
				worst = v
			}
		}
	}
	return worst
}
