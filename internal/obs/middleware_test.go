package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("discount", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/discounts/calculate", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/discounts/calculate"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/discounts/calculate", "202"))
	require.Equal(t, float64(1), total)
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestRequestLoggerStoresScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	var sawScoped bool
	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: base}.Middleware)
	r.Get("/api/v1/discounts/analytics", func(w http.ResponseWriter, r *http.Request) {
		l := obs.Logger(r.Context(), zerolog.Nop())
		l.Info().Msg("inside")
		sawScoped = true
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/discounts/analytics", nil))

	require.True(t, sawScoped)
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var last map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &last))
	require.Equal(t, "http_request", last["message"])
	require.Equal(t, float64(200), last["status"])
}

func TestDomainMetricsObserveRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("discount_test", registry)
	before := testutil.ToFloat64(obs.DiscountRunsTotal.WithLabelValues("ok"))
	obs.ObserveRun("ok", 12, map[string]int{"discounted": 2, "failed": 0})
	require.Equal(t, before+1, testutil.ToFloat64(obs.DiscountRunsTotal.WithLabelValues("ok")))
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.DiscountBatchesTotal.WithLabelValues("discounted")), float64(2))
}
