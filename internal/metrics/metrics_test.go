package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestKernelMetrics(t *testing.T) {
	t.Run("KernelCalls", func(t *testing.T) {
		c := KernelCalls.WithLabelValues("test_target", "ok")
		before := testutil.ToFloat64(c)
		c.Inc()
		c.Inc()
		assert.Equal(t, before+2, testutil.ToFloat64(c))
	})

	t.Run("HandlePoolIdle", func(t *testing.T) {
		g := HandlePoolIdle.WithLabelValues("test_pool")
		g.Set(3)
		g.Dec()
		assert.Equal(t, float64(2), testutil.ToFloat64(g))
	})

	t.Run("Histograms", func(t *testing.T) {
		// Global histograms accumulate across tests; just make sure observing
		// with the expected labels works.
		assert.NotPanics(t, func() {
			KernelCallDuration.WithLabelValues("test_target").Observe(0.25)
			KernelCallBatchSize.WithLabelValues("test_target").Observe(64)
		})
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"endpoint_responses_total":  EndpointResponses,
		"endpoint_duration_seconds": EndpointDuration,
		"handle_pool_created_total": HandlePoolCreated,
		"handle_pool_borrows_total": HandlePoolBorrows,
		"handle_pool_errors_total":  HandlePoolErrors,
		"handle_pool_idle":          HandlePoolIdle,
		"kernel_calls_total":        KernelCalls,
		"kernel_call_duration_ms":   KernelCallDuration,
		"kernel_call_batch_size":    KernelCallBatchSize,
		"device_copies_total":       DeviceCopies,
	}
	for name, c := range collectors {
		// promauto registered every collector with the default registry, so
		// registering it again must be rejected.
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already, name)
	}
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}), "/targets")

	ok := EndpointResponses.WithLabelValues("/targets", "200")
	bad := EndpointResponses.WithLabelValues("/targets", "400")
	okBefore, badBefore := testutil.ToFloat64(ok), testutil.ToFloat64(bad)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/targets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/targets?fail=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, badBefore+1, testutil.ToFloat64(bad))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(EndpointDuration, "endpoint_duration_seconds"), 1)
}

func TestMiddlewareImplicitStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), "/healthz-test")
	c := EndpointResponses.WithLabelValues("/healthz-test", "200")
	before := testutil.ToFloat64(c)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveDuration", func(b *testing.B) {
		h := KernelCallDuration.WithLabelValues("bench")
		for i := 0; i < b.N; i++ {
			h.Observe(float64(i % 1000))
		}
	})

	b.Run("IncCounter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			DeviceCopies.WithLabelValues("htod").Inc()
		}
	})
}
