package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/linalg-kernels/fixtures"
	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/config"
	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

const testConfig = "../../fixtures/tests/config/valid_config.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"kernelctl", "--config", testConfig, "--verbosity", "error"}, args...))
	return out.String(), err
}

func TestDescriptorCommand(t *testing.T) {
	t.Run("getrf", func(t *testing.T) {
		out, err := run(t, "descriptor", "getrf", "--type", "float64", "--batch", "2", "--n", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "target: "+kernels.GetrfBatchedTarget)
		assert.Contains(t, out, "lwork:  16")
		assert.Contains(t, out, "opaque: 010000000200000003000000")
	})

	t.Run("trsm", func(t *testing.T) {
		out, err := run(t, "descriptor", "trsm", "--type", "complex64", "--m", "4", "--n", "5", "--trans", "--conj")
		require.NoError(t, err)
		assert.Contains(t, out, "lwork:  8")
		// type, batch, m, n, side, uplo, trans, diag
		assert.Contains(t, out, "opaque: 0200000001000000040000000500000000000000000000000200000000000000")
	})

	t.Run("potrf", func(t *testing.T) {
		out, err := run(t, "descriptor", "potrf", "--lower=false", "--batch", "4", "--n", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "lwork:  32")
		assert.Contains(t, out, "opaque: 00000000010000000400000002000000")
	})

	t.Run("conjugate without transpose", func(t *testing.T) {
		_, err := run(t, "descriptor", "trsm", "--type", "complex64", "--conj")
		assert.ErrorContains(t, err, "conjugation without transposition not supported")
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := run(t, "descriptor", "getrf", "--type", "int8")
		assert.ErrorContains(t, err, "unsupported dtype")
	})
}

func TestTargetsCommand(t *testing.T) {
	out, err := run(t, "targets")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: host (host)")
	for _, name := range []string{kernels.TrsmBatchedTarget, kernels.GetrfBatchedTarget, kernels.PotrfBatchedTarget} {
		assert.Contains(t, out, name)
	}
}

func TestSelftestCommand(t *testing.T) {
	for _, staging := range []string{"synchronize", "deferred"} {
		t.Run(staging, func(t *testing.T) {
			out, err := run(t, "--staging", staging, "selftest", "--streams", "3", "--batch", "2", "--n", "4")
			require.NoError(t, err)
			assert.Contains(t, out, kernels.PotrfBatchedTarget)
			assert.NotContains(t, out, "FAIL")
		})
	}

	t.Run("invalid size", func(t *testing.T) {
		_, err := run(t, "selftest", "--n", "0")
		assert.Error(t, err)
	})

	t.Run("invalid staging override", func(t *testing.T) {
		_, err := run(t, "--staging", "eventually", "selftest")
		assert.ErrorContains(t, err, "backend.staging")
	})
}

func TestRunSelftest(t *testing.T) {
	b := backend.NewHost(nil)
	k := kernels.New(b.Runtime, b.BLAS, b.Solver, kernels.StagingDeferred, zaptest.NewLogger(t))
	r := customcall.NewRegistry()
	require.NoError(t, k.Register(r))

	checks, err := runSelftest(context.Background(), b.Host, r, 4, 3, 5, 7)
	require.NoError(t, err)
	require.Len(t, checks, 12)
	for _, c := range checks {
		assert.True(t, c.passed(), "%s on %s: max error %g, info %d", c.target, c.stream, c.maxErr, c.nonzeroInfo)
	}
	blasStats, solverStats := k.HandleStats()
	assert.LessOrEqual(t, blasStats.Live, 4)
	assert.LessOrEqual(t, solverStats.Live, 4)
}

func TestServe_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := config.Default()
	cfg.Backend.Kind = backend.KindHost
	cfg.Metrics.ListenAddress = taken.Addr().String()

	var srv *http.Server
	app := fx.New(serveOptions(cfg, zaptest.NewLogger(t)), fx.Populate(&srv))
	require.NoError(t, app.Err(), "nothing is bound while the graph is built")
	err = app.Start(context.Background())
	assert.ErrorContains(t, err, "listen on "+cfg.Metrics.ListenAddress)

	// The port stays with its owner and the app can be built again once it
	// is free.
	require.NoError(t, taken.Close())
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	again := fxtest.New(t, serveOptions(cfg, zaptest.NewLogger(t)))
	again.RequireStart().RequireStop()
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	out, err := run(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	written, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, written)

	_, err = run(t, "init", "--dir", dir)
	assert.ErrorContains(t, err, "already exists")
	_, err = run(t, "init", "--dir", dir, "--force")
	assert.NoError(t, err)

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestServe(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = backend.KindHost
	cfg.Metrics.ListenAddress = "127.0.0.1:0"

	var srv *http.Server
	app := fxtest.New(t, serveOptions(cfg, zaptest.NewLogger(t)), fx.Populate(&srv))
	app.RequireStart()
	defer app.RequireStop()
	base := "http://" + srv.Addr

	resp, err := http.Get(base + "/targets")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body targetsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "host", body.Backend)
	assert.Equal(t, "synchronize", body.Staging)
	assert.Equal(t, kernels.Describe(), body.Targets)
	assert.Contains(t, body.Handles, "blas")

	metricsResp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	text, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), `endpoint_responses_total{endpoint="/targets",status_code="200"}`)

	health, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	k, err := kernels.Default()
	require.NoError(t, err)
	assert.Equal(t, "host", k.Runtime().Name())
}
